package models

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Project groups workspaces, templates and runners on a host.
type Project struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ProjectSpec `json:"spec,omitempty"`
}

// ProjectSpec holds the user facing project fields.
type ProjectSpec struct {
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// Title returns the display name, falling back to the resource name.
func (p Project) Title() string {
	if p.Spec.DisplayName != "" {
		return p.Spec.DisplayName
	}
	return p.Name
}

// ProjectList is the payload of "list projects".
type ProjectList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []Project `json:"items"`
}

// Self describes the authenticated user on a host.
type Self struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Status SelfStatus `json:"status,omitempty"`
}

// SelfStatus carries the user identity and the namespace prefix used for
// project namespaces.
type SelfStatus struct {
	User                   *SelfUser `json:"user,omitempty"`
	ProjectNamespacePrefix *string   `json:"projectNamespacePrefix,omitempty"`
}

// SelfUser is the logged in user.
type SelfUser struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ProjectNamespace returns the namespace workspaces of project live in.
func (s Self) ProjectNamespace(project string) string {
	prefix := "p-"
	if s.Status.ProjectNamespacePrefix != nil {
		prefix = *s.Status.ProjectNamespacePrefix
	}
	return prefix + project
}

// Template is a workspace template offered by a project.
type Template struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec TemplateSpec `json:"spec,omitempty"`
}

// TemplateSpec describes a template and its published versions.
type TemplateSpec struct {
	DisplayName string              `json:"displayName,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  []TemplateParameter `json:"parameters,omitempty"`
	Versions    []TemplateVersion   `json:"versions,omitempty"`
}

// TemplateVersion is one published version of a template.
type TemplateVersion struct {
	Version    string              `json:"version,omitempty"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

// TemplateParameter is a template parameter definition.
type TemplateParameter struct {
	Variable     string   `json:"variable,omitempty"`
	Label        string   `json:"label,omitempty"`
	Description  string   `json:"description,omitempty"`
	Type         string   `json:"type,omitempty"`
	Options      []string `json:"options,omitempty"`
	DefaultValue string   `json:"defaultValue,omitempty"`
	Required     bool     `json:"required,omitempty"`
}

// TemplateList is the payload of "list templates".
type TemplateList struct {
	metav1.TypeMeta `json:",inline"`

	DevPodWorkspaceTemplates       []Template `json:"devPodWorkspaceTemplates,omitempty"`
	DefaultDevPodWorkspaceTemplate string     `json:"defaultDevPodWorkspaceTemplate,omitempty"`
}

// Runner is a cluster that can host workspaces.
type Runner struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec RunnerSpec `json:"spec,omitempty"`
}

// RunnerSpec holds the user facing runner fields.
type RunnerSpec struct {
	DisplayName string `json:"displayName,omitempty"`
}

// RunnerList is the payload of "list clusters".
type RunnerList struct {
	metav1.TypeMeta `json:",inline"`

	Runners []Runner `json:"runners,omitempty"`
}

// ProInstance is a host the user has logged into.
type ProInstance struct {
	Host              string    `json:"host" yaml:"host"`
	Provider          string    `json:"provider,omitempty" yaml:"provider,omitempty"`
	Authenticated     *bool     `json:"authenticated,omitempty" yaml:"authenticated,omitempty"`
	CreationTimestamp time.Time `json:"creationTimestamp,omitempty" yaml:"creationTimestamp,omitempty"`
}

// HealthStatus is the result of a health check. A failed check is reported
// here, never as an error.
type HealthStatus struct {
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}
