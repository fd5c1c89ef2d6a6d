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

package arn

import "strings"

// ARNs have the shape arn:partition:service:region:account-id:resource.
// Malformed input yields empty components rather than errors since callers
// treat a missing region or account as "unroutable" and fail per-resource.

func Region(arn string) string {
	return component(arn, 3)
}

func AccountID(arn string) string {
	return component(arn, 4)
}

func Service(arn string) string {
	return component(arn, 2)
}

// Resource returns everything after the account id, with any resource-type
// prefix ("db:", "cluster/", ...) intact.
func Resource(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return ""
	}
	return parts[5]
}

// IsCluster reports whether an RDS-family ARN addresses a cluster rather
// than a standalone instance.
func IsCluster(arn string) bool {
	return strings.HasPrefix(Resource(arn), "cluster:")
}

func component(arn string, idx int) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) <= idx {
		return ""
	}
	return parts[idx]
}
