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

package resources_test

import (
	"testing"

	"github.com/offhours-io/offhours/pkg/errors"
	"github.com/offhours-io/offhours/pkg/resources"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestResources(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Resources")
}

var _ = Describe("ParseReference", func() {
	It("should parse a vm identifier", func() {
		ref, err := resources.ParseReference(resources.KindVM, "arn:aws:ec2:eu-west-1:123456789012:instance/i-0abc123def456")
		Expect(err).ToNot(HaveOccurred())
		Expect(ref.Region).To(Equal("eu-west-1"))
		Expect(ref.AccountID).To(Equal("123456789012"))
		Expect(ref.LocalID).To(Equal("i-0abc123def456"))
	})
	It("should parse a db identifier", func() {
		ref, err := resources.ParseReference(resources.KindDB, "arn:aws:rds:us-east-1:123456789012:db:orders-prod")
		Expect(err).ToNot(HaveOccurred())
		Expect(ref.LocalID).To(Equal("orders-prod"))
	})
	It("should parse a document database cluster identifier", func() {
		ref, err := resources.ParseReference(resources.KindDocumentDB, "arn:aws:rds:us-east-1:123456789012:cluster:docs-prod")
		Expect(err).ToNot(HaveOccurred())
		Expect(ref.LocalID).To(Equal("docs-prod"))
	})
	It("should parse a container service identifier including its cluster", func() {
		ref, err := resources.ParseReference(resources.KindContainerService, "arn:aws:ecs:us-east-1:123456789012:service/prod-cluster/checkout")
		Expect(err).ToNot(HaveOccurred())
		Expect(ref.ClusterID).To(Equal("prod-cluster"))
		Expect(ref.LocalID).To(Equal("checkout"))
	})
	It("should parse an auto scaling group identifier containing colons in the name path", func() {
		ref, err := resources.ParseReference(resources.KindAutoScalingGroup,
			"arn:aws:autoscaling:us-east-1:123456789012:autoScalingGroup:9f2c:autoScalingGroupName/web-fleet")
		Expect(err).ToNot(HaveOccurred())
		Expect(ref.LocalID).To(Equal("web-fleet"))
	})
	It("should reject identifiers with too few segments", func() {
		_, err := resources.ParseReference(resources.KindVM, "i-0abc123def456")
		Expect(err).To(HaveOccurred())
		Expect(errors.IsInvalidResourceIdentifier(err)).To(BeTrue())
	})
	It("should reject an empty region or account segment", func() {
		_, err := resources.ParseReference(resources.KindVM, "arn:aws:ec2::123456789012:instance/i-0abc")
		Expect(err).To(HaveOccurred())
		_, err = resources.ParseReference(resources.KindVM, "arn:aws:ec2:us-east-1::instance/i-0abc")
		Expect(err).To(HaveOccurred())
	})
	It("should reject a container service identifier without a cluster segment", func() {
		_, err := resources.ParseReference(resources.KindContainerService, "arn:aws:ecs:us-east-1:123456789012:service/checkout")
		Expect(err).To(HaveOccurred())
	})
	It("should reject an auto scaling group identifier without a group name marker", func() {
		_, err := resources.ParseReference(resources.KindAutoScalingGroup, "arn:aws:autoscaling:us-east-1:123456789012:autoScalingGroup:9f2c")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ActionResult", func() {
	It("should report skips as not acted", func() {
		Expect(resources.ActionResult{Action: resources.ActionSkip, Outcome: resources.OutcomeSuccess}.Acted()).To(BeFalse())
		Expect(resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeSuccess}.Acted()).To(BeTrue())
		Expect(resources.ActionResult{Action: resources.ActionStart, Outcome: resources.OutcomeFailed}.Acted()).To(BeTrue())
	})
})
