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

// Package test provides the shared fixture wiring the fakes into a fully
// assembled scanner for suite tests.
package test

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	clock "k8s.io/utils/clock/testing"

	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/credentials"
	"github.com/offhours-io/offhours/pkg/fake"
	"github.com/offhours-io/offhours/pkg/scan"
)

const (
	DefaultRegion    = "us-east-1"
	DefaultAccountID = "123456789012"
	DefaultTenantID  = "tenant-1"
)

type Environment struct {
	// Mock
	Clock *clock.FakeClock

	// API
	EC2API         *fake.EC2API
	RDSAPI         *fake.RDSAPI
	DocDBAPI       *fake.DocDBAPI
	ECSAPI         *fake.ECSAPI
	AutoScalingAPI *fake.AutoScalingAPI
	STSAPI         *fake.STSAPI

	// Stores
	ScheduleStore *fake.ScheduleStore
	HistoryStore  *fake.HistoryStore
	AuditRecorder *fake.AuditRecorder

	// Wiring
	Broker  *credentials.Broker
	Scanner *scan.Scanner
}

func NewEnvironment() *Environment {
	clk := clock.NewFakeClock(time.Now())
	env := &Environment{
		Clock:          clk,
		EC2API:         &fake.EC2API{},
		RDSAPI:         &fake.RDSAPI{},
		DocDBAPI:       &fake.DocDBAPI{},
		ECSAPI:         &fake.ECSAPI{},
		AutoScalingAPI: &fake.AutoScalingAPI{},
		STSAPI:         &fake.STSAPI{},
		ScheduleStore:  &fake.ScheduleStore{},
		HistoryStore:   &fake.HistoryStore{},
		AuditRecorder:  &fake.AuditRecorder{},
	}
	env.Broker = credentials.NewBroker(env.STSAPI, clk)
	factory := func(aws.Config) *sdk.Clients {
		return &sdk.Clients{
			EC2:         env.EC2API,
			RDS:         env.RDSAPI,
			DocDB:       env.DocDBAPI,
			ECS:         env.ECSAPI,
			AutoScaling: env.AutoScalingAPI,
		}
	}
	env.Scanner = scan.NewScanner(env.ScheduleStore, env.Broker, env.HistoryStore, env.AuditRecorder, factory, clk, 5*time.Minute)
	return env
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (env *Environment) Reset() {
	env.EC2API.Reset()
	env.RDSAPI.Reset()
	env.DocDBAPI.Reset()
	env.ECSAPI.Reset()
	env.AutoScalingAPI.Reset()
	env.STSAPI.Reset()
	env.Broker.Flush()
	env.ScheduleStore.Reset()
	env.HistoryStore.Reset()
	env.AuditRecorder.Reset()
}
