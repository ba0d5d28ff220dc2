/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package donor_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestDonor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
