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

package options

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/offhours-io/offhours/pkg/utils/env"
)

type Mode string

const (
	ModeFull    Mode = "full"
	ModePartial Mode = "partial"
	ModeDaemon  Mode = "daemon"
)

// Options for running this binary
type Options struct {
	*flag.FlagSet
	// Run mode
	Mode       string
	ScheduleID string
	TenantID   string
	Actor      string
	// Service
	MetricsPort   int
	LogLevel      string
	LogProduction bool
	// Scanning
	ScanTimeout     time.Duration
	ScanCron        string
	HistoryLookback int
	// Storage
	Region        string
	ScheduleTable string
	AccountTable  string
	HistoryTable  string
	AuditTable    string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("offhours", flag.ContinueOnError)
	opts.FlagSet = f

	// Run mode
	f.StringVar(&opts.Mode, "mode", env.WithDefaultString("RUN_MODE", string(ModeDaemon)), "Run mode: full (one-shot full scan), partial (one-shot single-schedule scan) or daemon (periodic full scans)")
	f.StringVar(&opts.ScheduleID, "schedule-id", env.WithDefaultString("SCHEDULE_ID", ""), "Schedule to scan in partial mode")
	f.StringVar(&opts.TenantID, "tenant-id", env.WithDefaultString("TENANT_ID", ""), "Tenant owning the schedule in partial mode")
	f.StringVar(&opts.Actor, "actor", env.WithDefaultString("ACTOR", ""), "Identity to record on audit entries for on-demand scans")

	// Service
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to when running as a daemon")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Minimum log level (debug, info, warn, error)")
	f.BoolVar(&opts.LogProduction, "log-production", env.WithDefaultBool("LOG_PRODUCTION", true), "Emit JSON logs; disable for human-readable console output")

	// Scanning
	f.DurationVar(&opts.ScanTimeout, "scan-timeout", env.WithDefaultDuration("SCAN_TIMEOUT", 10*time.Minute), "Upper bound on one scan; resources not reached by the deadline are recorded as failed")
	f.StringVar(&opts.ScanCron, "scan-cron", env.WithDefaultString("SCAN_CRON", "*/5 * * * *"), "Cron expression driving periodic full scans in daemon mode")
	f.IntVar(&opts.HistoryLookback, "history-lookback", env.WithDefaultInt("HISTORY_LOOKBACK", 25), "How many past executions to inspect when restoring captured state")

	// Storage
	f.StringVar(&opts.Region, "region", env.WithDefaultString("AWS_REGION", ""), "The home region for the configuration, history and audit tables")
	f.StringVar(&opts.ScheduleTable, "schedule-table", env.WithDefaultString("SCHEDULE_TABLE", ""), "DynamoDB table holding schedule definitions")
	f.StringVar(&opts.AccountTable, "account-table", env.WithDefaultString("ACCOUNT_TABLE", ""), "DynamoDB table holding target account registrations")
	f.StringVar(&opts.HistoryTable, "history-table", env.WithDefaultString("HISTORY_TABLE", ""), "DynamoDB table holding execution history")
	f.StringVar(&opts.AuditTable, "audit-table", env.WithDefaultString("AUDIT_TABLE", ""), "DynamoDB table holding audit entries")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse(args []string) *Options {
	err := o.Parse(args)

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	for name, value := range map[string]string{
		"REGION":         o.Region,
		"SCHEDULE_TABLE": o.ScheduleTable,
		"ACCOUNT_TABLE":  o.AccountTable,
		"HISTORY_TABLE":  o.HistoryTable,
		"AUDIT_TABLE":    o.AuditTable,
	} {
		if value == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required", name))
		}
	}
	switch Mode(o.Mode) {
	case ModeFull, ModeDaemon:
	case ModePartial:
		if o.ScheduleID == "" {
			err = multierr.Append(err, fmt.Errorf("schedule-id is required in partial mode"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("mode may only be full, partial or daemon"))
	}
	if o.ScanTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("scan-timeout must be positive"))
	}
	if _, parseErr := cron.ParseStandard(o.ScanCron); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("\"%s\" not a valid SCAN_CRON expression", o.ScanCron))
	}
	return err
}
