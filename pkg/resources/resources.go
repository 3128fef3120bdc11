/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resources

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/offhours-io/offhours/pkg/errors"
)

// Kind identifies the resource family a reference belongs to. Each kind maps
// to exactly one driver.
type Kind string

const (
	KindVM               Kind = "vm"
	KindDB               Kind = "db"
	KindContainerService Kind = "container-service"
	KindAutoScalingGroup Kind = "auto-scaling-group"
	KindDocumentDB       Kind = "document-database"
)

var KnownKinds = []Kind{KindVM, KindDB, KindContainerService, KindAutoScalingGroup, KindDocumentDB}

// Action is the transition attempted for a resource in one scan.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
	ActionSkip  Action = "skip"
)

// Outcome is the terminal state of one driver invocation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Reference points at one managed resource. The canonical ID is the ARN-form
// identifier from which account, region and local id are recoverable.
type Reference struct {
	ID        string `json:"id" dynamodbav:"id"`
	Kind      Kind   `json:"kind" dynamodbav:"kind"`
	Region    string `json:"region" dynamodbav:"region"`
	AccountID string `json:"accountId" dynamodbav:"accountId"`
	// LocalID is the kind-native identifier (instance id, db identifier,
	// service name, asg name).
	LocalID string `json:"localId" dynamodbav:"localId"`
	// ClusterID is set for container services only.
	ClusterID string `json:"clusterId,omitempty" dynamodbav:"clusterId,omitempty"`
}

// AsgState is the captured (min, max, desired) triple for one auto-scaling
// group, keyed by group name.
type AsgState struct {
	Name            string `json:"name"`
	MinSize         int32  `json:"minSize"`
	MaxSize         int32  `json:"maxSize"`
	DesiredCapacity int32  `json:"desiredCapacity"`
}

// InstanceState is the captured pre-stop state of a virtual machine.
type InstanceState struct {
	PowerState   string `json:"powerState"`
	InstanceType string `json:"instanceType"`
}

// DatabaseState is the captured pre-stop state of a managed database.
type DatabaseState struct {
	Availability  string `json:"availability"`
	InstanceClass string `json:"instanceClass,omitempty"`
}

// ServiceState is the captured pre-stop state of a container service,
// including the backing auto-scaling-group triples taken down with it.
type ServiceState struct {
	DesiredCount    int32      `json:"desiredCount"`
	BackingAsgState []AsgState `json:"backingAsgState,omitempty"`
}

// CapturedState is the kind-tagged prior-state envelope embedded in execution
// records and read back on restore. Records are written whole at capture time
// and only ever read afterwards; nothing deserializes and rewrites a stored
// state, so fields added later are never dropped by older readers.
type CapturedState struct {
	Instance *InstanceState `json:"instance,omitempty"`
	Database *DatabaseState `json:"database,omitempty"`
	Service  *ServiceState  `json:"service,omitempty"`
	Asg      *AsgState      `json:"asg,omitempty"`
}

// ActionResult is the outcome of one driver invocation for one resource.
type ActionResult struct {
	ID         string         `json:"id"`
	LocalID    string         `json:"localId"`
	Action     Action         `json:"action"`
	Outcome    Outcome        `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	PriorState *CapturedState `json:"priorState,omitempty"`
}

// Acted reports whether the result represents a state transition attempt
// rather than a skip.
func (r ActionResult) Acted() bool {
	return r.Action != ActionSkip
}

// ParseReference parses a canonical identifier into a Reference. Identifiers
// follow the ARN layout: the 4th colon-separated segment is the region, the
// 5th is the account id, and the trailing segments encode kind and local id.
func ParseReference(kind Kind, id string) (Reference, error) {
	parts := strings.Split(id, ":")
	if len(parts) < 6 {
		return Reference{}, errors.NewInvalidResourceIdentifier(id, "expected at least 6 colon-separated segments")
	}
	ref := Reference{
		ID:        id,
		Kind:      kind,
		Region:    parts[3],
		AccountID: parts[4],
	}
	if ref.Region == "" || ref.AccountID == "" {
		return Reference{}, errors.NewInvalidResourceIdentifier(id, "empty region or account segment")
	}
	resource := strings.Join(parts[5:], ":")
	switch kind {
	case KindVM:
		// instance/i-0123456789abcdef0
		ref.LocalID = lo.LastOrEmpty(strings.Split(resource, "/"))
	case KindDB:
		// db:identifier
		ref.LocalID = lo.LastOrEmpty(strings.Split(resource, ":"))
	case KindDocumentDB:
		// cluster:identifier
		ref.LocalID = lo.LastOrEmpty(strings.Split(resource, ":"))
	case KindContainerService:
		// service/cluster-name/service-name; the parent cluster must be
		// recoverable from the identifier when no clusterId attribute exists.
		segments := strings.Split(resource, "/")
		if len(segments) < 3 {
			return Reference{}, errors.NewInvalidResourceIdentifier(id, "container service identifier missing cluster segment")
		}
		ref.ClusterID = segments[len(segments)-2]
		ref.LocalID = segments[len(segments)-1]
	case KindAutoScalingGroup:
		// autoScalingGroup:uuid:autoScalingGroupName/group-name
		const marker = "autoScalingGroupName/"
		idx := strings.Index(resource, marker)
		if idx < 0 {
			return Reference{}, errors.NewInvalidResourceIdentifier(id, "auto scaling group identifier missing group name")
		}
		ref.LocalID = resource[idx+len(marker):]
	default:
		return Reference{}, errors.NewInvalidResourceIdentifier(id, fmt.Sprintf("unknown kind %q", kind))
	}
	if ref.LocalID == "" {
		return Reference{}, errors.NewInvalidResourceIdentifier(id, "empty local id")
	}
	return ref, nil
}
