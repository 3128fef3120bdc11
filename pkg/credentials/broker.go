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

package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/errors"
	"github.com/offhours-io/offhours/pkg/metrics"
	"github.com/offhours-io/offhours/pkg/operator/logging"
)

const (
	// SessionDuration is the lifetime requested from STS.
	SessionDuration = time.Hour
	// CacheTTL caps how long a session is reused. The 5 minute margin below
	// SessionDuration guarantees callers never receive a credential within
	// 5 minutes of expiry.
	CacheTTL = 55 * time.Minute
)

// Session holds short-lived credentials scoped to one (account, region).
type Session struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
	Region          string
}

// Config converts the session into an aws.Config usable for client
// construction in the session's region.
func (s Session) Config() aws.Config {
	return aws.Config{
		Region:      s.Region,
		Credentials: awscredentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, s.SessionToken),
	}
}

// Broker assumes per-account roles and caches the resulting sessions per
// (account, region). Concurrent misses for the same key are coalesced so only
// one AssumeRole call is in flight per key.
type Broker struct {
	stsapi sdk.STSAPI
	cache  *cache.Cache
	group  singleflight.Group
	clk    clock.Clock
}

func NewBroker(stsapi sdk.STSAPI, clk clock.Clock) *Broker {
	return &Broker{
		stsapi: stsapi,
		cache:  cache.New(CacheTTL, 10*time.Minute),
		clk:    clk,
	}
}

// Assume returns a session for the given role in the given account and
// region, from cache when fresh. Failures are reported as CredentialError.
func (b *Broker) Assume(ctx context.Context, roleARN, accountID, region string, externalID string) (Session, error) {
	key := fmt.Sprintf("%s/%s", accountID, region)
	if cached, ok := b.cache.Get(key); ok {
		session := cached.(Session)
		if session.Expiration.After(b.clk.Now().Add(5 * time.Minute)) {
			metrics.CredentialCacheHits.Inc()
			return session, nil
		}
		b.cache.Delete(key)
	}
	out, err, _ := b.group.Do(key, func() (interface{}, error) {
		return b.assume(ctx, roleARN, accountID, region, externalID)
	})
	if err != nil {
		return Session{}, &errors.CredentialError{AccountID: accountID, Region: region, Err: err}
	}
	return out.(Session), nil
}

// Flush drops every cached session. Sessions are re-assumed on next use.
func (b *Broker) Flush() {
	b.cache.Flush()
}

func (b *Broker) assume(ctx context.Context, roleARN, accountID, region, externalID string) (Session, error) {
	input := &sts.AssumeRoleInput{
		RoleArn: aws.String(roleARN),
		// deterministic per (account, region) so sessions are attributable
		RoleSessionName: aws.String(fmt.Sprintf("offhours-%s-%s", accountID, region)),
		DurationSeconds: aws.Int32(int32(SessionDuration.Seconds())),
	}
	if externalID != "" {
		input.ExternalId = aws.String(externalID)
	}
	out, err := b.stsapi.AssumeRole(ctx, input)
	if err != nil {
		return Session{}, fmt.Errorf("assuming role %s, %w", roleARN, err)
	}
	session := Session{
		AccessKeyID:     lo.FromPtr(out.Credentials.AccessKeyId),
		SecretAccessKey: lo.FromPtr(out.Credentials.SecretAccessKey),
		SessionToken:    lo.FromPtr(out.Credentials.SessionToken),
		Expiration:      lo.FromPtr(out.Credentials.Expiration),
		Region:          region,
	}
	ttl := CacheTTL
	if until := session.Expiration.Sub(b.clk.Now()) - 5*time.Minute; until < ttl {
		ttl = until
	}
	if ttl > 0 {
		b.cache.Set(fmt.Sprintf("%s/%s", accountID, region), session, ttl)
	}
	logging.FromContext(ctx).With("account-id", accountID, "region", region).Debug("assumed role")
	return session, nil
}
