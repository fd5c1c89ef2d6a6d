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

// Package operator wires the long-lived control-plane clients together.
// The home-region clients (DynamoDB, STS) live for the process; the
// workload-account clients are rebuilt per (account, region) from brokered
// credentials.
package operator

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/docdb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/cloudnap/cloudnap/pkg/audit"
	"github.com/cloudnap/cloudnap/pkg/controllers/scheduler"
	"github.com/cloudnap/cloudnap/pkg/operator/options"
	asgprovider "github.com/cloudnap/cloudnap/pkg/providers/autoscaling"
	"github.com/cloudnap/cloudnap/pkg/providers/containerservice"
	"github.com/cloudnap/cloudnap/pkg/providers/credentials"
	"github.com/cloudnap/cloudnap/pkg/providers/database"
	docdbprovider "github.com/cloudnap/cloudnap/pkg/providers/docdb"
	"github.com/cloudnap/cloudnap/pkg/providers/instance"
	"github.com/cloudnap/cloudnap/pkg/providers/store"
	"github.com/cloudnap/cloudnap/pkg/window"
)

// Operator holds everything a running scheduler needs.
type Operator struct {
	Options    *options.Options
	Store      store.Store
	Broker     credentials.Broker
	Recorder   audit.Recorder
	Controller *scheduler.Controller
}

func NewOperator(ctx context.Context, opts *options.Options) (*Operator, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = 5
			})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("loading sdk config, %w", err)
	}

	s := store.NewDefaultStore(dynamodb.NewFromConfig(cfg), opts.TableName)
	broker := credentials.NewDefaultBroker(sts.NewFromConfig(cfg))
	recorder := audit.NewRecorder(ctx, s)
	controller := scheduler.NewController(s, broker, window.NewEvaluator(), recorder, &awsDriverFactory{recorder: recorder}, scheduler.Options{
		AccountConcurrency:  opts.AccountConcurrency,
		ResourceConcurrency: opts.ResourceConcurrency,
	})
	return &Operator{
		Options:    opts,
		Store:      s,
		Broker:     broker,
		Recorder:   recorder,
		Controller: controller,
	}, nil
}

// awsDriverFactory builds the five family drivers from one set of
// brokered credentials.
type awsDriverFactory struct {
	recorder audit.Recorder
}

func (f *awsDriverFactory) ForAccount(_ context.Context, creds *credentials.Credentials, accountID string) (*scheduler.Drivers, error) {
	cfg := creds.Config()
	return &scheduler.Drivers{
		Instance:         instance.NewDefaultProvider(ec2.NewFromConfig(cfg), f.recorder, accountID),
		Database:         database.NewDefaultProvider(rds.NewFromConfig(cfg), f.recorder, accountID),
		DocDB:            docdbprovider.NewDefaultProvider(docdb.NewFromConfig(cfg), f.recorder, accountID),
		ContainerService: containerservice.NewDefaultProvider(ecs.NewFromConfig(cfg), f.recorder, accountID),
		AutoScaling:      asgprovider.NewDefaultProvider(autoscaling.NewFromConfig(cfg), f.recorder, accountID),
	}, nil
}
