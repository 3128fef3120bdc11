package sdk

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/docdb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// Clients bundles the per-(account, region) service clients the drivers need.
// One set is constructed per credentialed group within a scan.
type Clients struct {
	EC2         EC2API
	RDS         RDSAPI
	DocDB       DocDBAPI
	ECS         ECSAPI
	AutoScaling AutoScalingAPI
}

// ClientFactory builds a client set from a session-scoped aws.Config. Tests
// substitute a factory returning fakes.
type ClientFactory func(cfg aws.Config) *Clients

// NewClients is the production ClientFactory.
func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		EC2:         ec2.NewFromConfig(cfg),
		RDS:         rds.NewFromConfig(cfg),
		DocDB:       docdb.NewFromConfig(cfg),
		ECS:         ecs.NewFromConfig(cfg),
		AutoScaling: autoscaling.NewFromConfig(cfg),
	}
}
