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

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/cloudnap/cloudnap/pkg/utils/env"
)

// Supported tick cadences. The loop only fires on these intervals so
// window boundaries are hit within a predictable delay.
var validTickIntervals = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

// Options for running this binary
type Options struct {
	*flag.FlagSet

	TableName           string
	TenantID            string
	Region              string
	TickInterval        time.Duration
	InvocationTimeout   time.Duration
	AccountConcurrency  int
	ResourceConcurrency int
	MetricsPort         int
	Once                bool
	LogLevel            string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("cloudnap", flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.TableName, "table-name", env.WithDefaultString("TABLE_NAME", ""), "The DynamoDB table holding schedules, accounts, executions and audit entries")
	f.StringVar(&opts.TenantID, "tenant-id", env.WithDefaultString("TENANT_ID", "default"), "The tenant whose schedules this scheduler processes")
	f.StringVar(&opts.Region, "region", env.WithDefaultString("AWS_REGION", ""), "The home region for the control-plane clients (DynamoDB, STS)")
	f.DurationVar(&opts.TickInterval, "tick-interval", env.WithDefaultDuration("TICK_INTERVAL", 15*time.Minute), "How often the scheduler evaluates windows; one of 5m, 15m, 30m, 60m")
	f.DurationVar(&opts.InvocationTimeout, "invocation-timeout", env.WithDefaultDuration("INVOCATION_TIMEOUT", 10*time.Minute), "The budget for a single invocation; resources still pending when it expires are failed")
	f.IntVar(&opts.AccountConcurrency, "account-concurrency", env.WithDefaultInt("ACCOUNT_CONCURRENCY", 8), "The maximum number of accounts processed concurrently per schedule")
	f.IntVar(&opts.ResourceConcurrency, "resource-concurrency", env.WithDefaultInt("RESOURCE_CONCURRENCY", 16), "The maximum number of resources mutated concurrently per account")
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to for operating metrics about the scheduler itself")
	f.BoolVar(&opts.Once, "once", env.WithDefaultBool("ONCE", false), "Run a single invocation and exit instead of ticking on an interval")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log verbosity, one of debug, info, error")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

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
	if o.TableName == "" {
		err = multierr.Append(err, fmt.Errorf("TABLE_NAME is required"))
	}
	if o.TenantID == "" {
		err = multierr.Append(err, fmt.Errorf("TENANT_ID may not be empty"))
	}
	if o.Region == "" {
		err = multierr.Append(err, fmt.Errorf("AWS_REGION is required"))
	}
	if !lo.Contains(validTickIntervals, o.TickInterval) {
		err = multierr.Append(err, fmt.Errorf("tick-interval %s is not one of 5m, 15m, 30m, 60m", o.TickInterval))
	}
	if o.InvocationTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("invocation-timeout must be positive"))
	}
	if o.AccountConcurrency <= 0 || o.ResourceConcurrency <= 0 {
		err = multierr.Append(err, fmt.Errorf("concurrency bounds must be positive"))
	}
	if !lo.Contains([]string{"debug", "info", "error"}, o.LogLevel) {
		err = multierr.Append(err, fmt.Errorf("log-level may only be debug, info or error"))
	}
	return err
}
