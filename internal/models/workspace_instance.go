package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/source"
)

// Labels and annotations read from and written to every workspace instance.
const (
	LabelWorkspaceID          = "loft.sh/workspace-id"
	LabelWorkspaceUID         = "loft.sh/workspace-uid"
	AnnotationWorkspaceSource = "loft.sh/workspace-source"
	AnnotationLastActivity    = "sleepmode.loft.sh/last-activity"
)

// TemplateRef points at the workspace template an instance was created from.
type TemplateRef struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// RunnerRef points at the runner (cluster) hosting an instance.
type RunnerRef struct {
	Runner string `json:"runner,omitempty" yaml:"runner,omitempty"`
}

// InstanceSpec is the desired state of a remote workspace instance.
type InstanceSpec struct {
	DisplayName string          `json:"displayName,omitempty"`
	Description string          `json:"description,omitempty"`
	TemplateRef *TemplateRef    `json:"templateRef,omitempty"`
	RunnerRef   RunnerRef       `json:"runnerRef,omitempty"`
	Parameters  string          `json:"parameters,omitempty"`
	Target      json.RawMessage `json:"target,omitempty"`
}

// InstanceStatus is the observed state of a remote workspace instance.
type InstanceStatus struct {
	Phase               string `json:"phase,omitempty"`
	LastWorkspaceStatus string `json:"lastWorkspaceStatus,omitempty"`
	Reason              string `json:"reason,omitempty"`
	Message             string `json:"message,omitempty"`
}

// RemoteInstance is the workspace instance payload exactly as the management
// backend sends it.
type RemoteInstance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   InstanceSpec   `json:"spec,omitempty"`
	Status InstanceStatus `json:"status,omitempty"`
}

// WorkspaceID returns the workspace-id label, trimmed.
func (r RemoteInstance) WorkspaceID() string {
	return strings.TrimSpace(r.Labels[LabelWorkspaceID])
}

// WorkspaceInstance wraps a RemoteInstance with the fields derived from it.
// Build it with NewWorkspaceInstance.
type WorkspaceInstance struct {
	ID                  string        `json:"id" yaml:"id"`
	UID                 string        `json:"uid,omitempty" yaml:"uid,omitempty"`
	DisplayName         string        `json:"displayName" yaml:"displayName"`
	Phase               string        `json:"phase,omitempty" yaml:"phase,omitempty"`
	LastWorkspaceStatus string        `json:"lastWorkspaceStatus,omitempty" yaml:"lastWorkspaceStatus,omitempty"`
	TemplateRef         TemplateRef   `json:"templateRef" yaml:"templateRef"`
	RunnerRef           RunnerRef     `json:"runnerRef" yaml:"runnerRef"`
	LastActivity        string        `json:"lastActivity,omitempty" yaml:"lastActivity,omitempty"`
	Source              source.Source `json:"source" yaml:"source"`

	Raw RemoteInstance `json:"raw" yaml:"-"`
}

// NewWorkspaceInstance derives a WorkspaceInstance from its remote payload.
// An instance without a workspace-id label is rejected.
func NewWorkspaceInstance(raw RemoteInstance) (WorkspaceInstance, error) {
	id := raw.WorkspaceID()
	if id == "" {
		return WorkspaceInstance{}, failure.Validation("instance %q has no %s label", raw.Name, LabelWorkspaceID)
	}

	inst := WorkspaceInstance{
		ID:                  id,
		UID:                 raw.Labels[LabelWorkspaceUID],
		DisplayName:         displayName(raw),
		Phase:               raw.Status.Phase,
		LastWorkspaceStatus: raw.Status.LastWorkspaceStatus,
		RunnerRef:           raw.Spec.RunnerRef,
		LastActivity:        strings.TrimSpace(raw.Annotations[AnnotationLastActivity]),
		Raw:                 raw,
	}
	if raw.Spec.TemplateRef != nil {
		inst.TemplateRef = *raw.Spec.TemplateRef
	}
	if s, ok := raw.Annotations[AnnotationWorkspaceSource]; ok {
		inst.Source = source.Parse(s)
	}
	return inst, nil
}

func displayName(raw RemoteInstance) string {
	if raw.Spec.DisplayName != "" {
		return raw.Spec.DisplayName
	}
	return raw.Name
}

// LastActivityUnix parses the last-activity annotation. ok is false when the
// annotation is missing or not a decimal integer.
func (r RemoteInstance) LastActivityUnix() (int64, bool) {
	v := strings.TrimSpace(r.Annotations[AnnotationLastActivity])
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeInstances decodes one watch or list payload, a JSON array of workspace
// instances.
func DecodeInstances(payload []byte) ([]RemoteInstance, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, failure.Decode("failed to decode workspace instances", err)
	}

	instances := make([]RemoteInstance, 0, len(items))
	for i, item := range items {
		var head struct {
			Metadata json.RawMessage `json:"metadata"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, failure.Decode("failed to decode workspace instance", err)
		}
		if len(head.Metadata) == 0 || string(head.Metadata) == "null" {
			return nil, failure.Decode("workspace instance is missing metadata", fmt.Errorf("item %d", i))
		}

		var inst RemoteInstance
		if err := json.Unmarshal(item, &inst); err != nil {
			return nil, failure.Decode("failed to decode workspace instance", err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// SortByLastActivity orders instances newest first. Only instances with a
// numeric last-activity annotation move; the others keep their index.
func SortByLastActivity(instances []RemoteInstance) {
	var slots []int
	for i, inst := range instances {
		if _, ok := inst.LastActivityUnix(); ok {
			slots = append(slots, i)
		}
	}
	if len(slots) < 2 {
		return
	}

	ranked := make([]RemoteInstance, len(slots))
	for i, slot := range slots {
		ranked[i] = instances[slot]
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		ta, _ := ranked[a].LastActivityUnix()
		tb, _ := ranked[b].LastActivityUnix()
		return ta > tb
	})
	for i, slot := range slots {
		instances[slot] = ranked[i]
	}
}
