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

// Package operator assembles the process: AWS configuration, stores, the
// credential broker and the scanner, wired from parsed options.
package operator

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/credentials"
	"github.com/offhours-io/offhours/pkg/history"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/operator/options"
	"github.com/offhours-io/offhours/pkg/scan"
	"github.com/offhours-io/offhours/pkg/schedule"
)

// Operator holds the assembled process dependencies.
type Operator struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
	Scanner *scan.Scanner
}

// New builds the operator from options. The home-region AWS config backs the
// configuration, history and audit stores and the STS client; per-account
// clients are minted by the scanner through the credential broker.
func New(ctx context.Context, opts *options.Options) (*Operator, error) {
	logger, err := logging.NewLogger(opts.LogLevel, opts.LogProduction)
	if err != nil {
		return nil, fmt.Errorf("building logger, %w", err)
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration, %w", err)
	}
	clk := clock.RealClock{}
	ddbapi := dynamodb.NewFromConfig(cfg)

	configStore := schedule.NewDynamoStore(ddbapi, opts.ScheduleTable, opts.AccountTable)
	historyStore := history.NewDynamoStore(ddbapi, opts.HistoryTable, opts.HistoryLookback)
	writer := audit.NewDynamoWriter(ddbapi, opts.AuditTable, clk)
	broker := credentials.NewBroker(sts.NewFromConfig(cfg), clk)

	return &Operator{
		Options: opts,
		Logger:  logger,
		Scanner: scan.NewScanner(configStore, broker, historyStore, writer, sdk.NewClients, clk, opts.ScanTimeout),
	}, nil
}
