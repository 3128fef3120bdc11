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

package schedule

import (
	"context"

	"github.com/offhours-io/offhours/pkg/resources"
	"github.com/offhours-io/offhours/pkg/scheduling"
)

// Resource is one managed resource attached to a schedule, as stored by the
// external configuration service. The canonical ID encodes account, region,
// kind and local id; ClusterID is only present for container services whose
// identifier predates cluster-qualified ARNs.
type Resource struct {
	ID        string         `json:"id" dynamodbav:"id"`
	Kind      resources.Kind `json:"kind" dynamodbav:"kind"`
	ClusterID string         `json:"clusterId,omitempty" dynamodbav:"clusterId,omitempty"`
}

// Schedule describes when a set of resources should be running. The core
// only reads schedules; they are created and mutated externally and are
// immutable for the duration of one scan.
type Schedule struct {
	ID        string     `json:"id" dynamodbav:"id"`
	Name      string     `json:"name" dynamodbav:"name"`
	TenantID  string     `json:"tenantId" dynamodbav:"tenantId"`
	Active    bool       `json:"active" dynamodbav:"active"`
	StartTime string     `json:"startTime" dynamodbav:"startTime"`
	EndTime   string     `json:"endTime" dynamodbav:"endTime"`
	Timezone  string     `json:"timezone" dynamodbav:"timezone"`
	Days      []string   `json:"days" dynamodbav:"days"`
	Resources []Resource `json:"resources" dynamodbav:"resources"`
}

// Window returns the schedule's activity window for evaluation.
func (s Schedule) Window() scheduling.Window {
	return scheduling.Window{
		Start:    s.StartTime,
		End:      s.EndTime,
		Timezone: s.Timezone,
		Days:     s.Days,
	}
}

// Account is one target cloud account, managed externally and cached only for
// the duration of one scan.
type Account struct {
	ID         string   `json:"id" dynamodbav:"id"`
	Name       string   `json:"name" dynamodbav:"name"`
	RoleARN    string   `json:"roleArn" dynamodbav:"roleArn"`
	ExternalID string   `json:"externalId,omitempty" dynamodbav:"externalId,omitempty"`
	Regions    []string `json:"regions" dynamodbav:"regions"`
	Active     bool     `json:"active" dynamodbav:"active"`
}

// Store is the read-only projection of the external configuration service.
type Store interface {
	// ActiveSchedules returns all schedules with active = true, optionally
	// filtered by tenant (empty tenantID means all tenants).
	ActiveSchedules(ctx context.Context, tenantID string) ([]Schedule, error)
	// Schedule looks up one schedule; returns ScheduleNotFoundError when the
	// (id, tenant) pair does not exist.
	Schedule(ctx context.Context, id, tenantID string) (*Schedule, error)
	// ActiveAccounts returns all account records with active = true.
	ActiveAccounts(ctx context.Context) ([]Account, error)
}
