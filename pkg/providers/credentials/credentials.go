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

// Package credentials mints short-lived per-account credentials. Engine
// runs are short so nothing is cached across invocations.
package credentials

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/samber/lo"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	sdk "github.com/cloudnap/cloudnap/pkg/aws"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
)

const (
	sessionName     = "cloudnap-scheduler"
	sessionDuration = int32(900) // seconds, the STS minimum
)

// Credentials are one assumed-role grant scoped to a region.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// Config converts the grant into a client configuration for that region.
func (c *Credentials) Config() aws.Config {
	return aws.Config{
		Region:      c.Region,
		Credentials: awscredentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
	}
}

type Broker interface {
	Assume(ctx context.Context, account *v1.Account, region string) (*Credentials, error)
}

type DefaultBroker struct {
	stsapi sdk.STSAPI
}

func NewDefaultBroker(stsapi sdk.STSAPI) *DefaultBroker {
	return &DefaultBroker{stsapi: stsapi}
}

// Assume obtains credentials for one account in one region. Failures wrap
// AccountUnreachable; the engine skips the (schedule, account) pair and
// keeps going.
func (b *DefaultBroker) Assume(ctx context.Context, account *v1.Account, region string) (*Credentials, error) {
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(account.RoleARN),
		RoleSessionName: aws.String(fmt.Sprintf("%s-%s", sessionName, account.AccountID)),
		DurationSeconds: aws.Int32(sessionDuration),
		Tags: []ststypes.Tag{{
			Key:   aws.String("tenant"),
			Value: aws.String(account.TenantID),
		}},
	}
	if account.ExternalID != "" {
		input.ExternalId = aws.String(account.ExternalID)
	}
	out, err := b.stsapi.AssumeRole(ctx, input)
	if err != nil {
		return nil, &cnerrors.AccountUnreachableError{AccountID: account.AccountID, Err: err}
	}
	if out.Credentials == nil {
		return nil, &cnerrors.AccountUnreachableError{AccountID: account.AccountID, Err: fmt.Errorf("assume role returned no credentials")}
	}
	return &Credentials{
		AccessKeyID:     lo.FromPtr(out.Credentials.AccessKeyId),
		SecretAccessKey: lo.FromPtr(out.Credentials.SecretAccessKey),
		SessionToken:    lo.FromPtr(out.Credentials.SessionToken),
		Region:          region,
	}, nil
}
