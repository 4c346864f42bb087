// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Server", func() {
	It("exposes the agent collectors", func() {
		before := testutil.ToFloat64(DispatchFallbacksTotal.WithLabelValues("erase_block_device"))
		DispatchFallbacksTotal.WithLabelValues("erase_block_device").Inc()
		Expect(testutil.ToFloat64(DispatchFallbacksTotal.WithLabelValues("erase_block_device"))).To(Equal(before + 1))

		srv := httptest.NewServer(NewServer(logr.Discard(), "").Handler())
		DeferCleanup(srv.Close)

		resp, err := http.Get(srv.URL + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring(`metalagent_dispatch_fallbacks_total{operation="erase_block_device"}`))
	})
})
