/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/shardkeep/clustercoord/cmn/cos"
)

// Client is a low-allocation JSON-over-HTTP RPC client shared by the
// replica-set monitor (ismaster probes), the catalog manager
// (config-server admin commands), and migration (donor/recipient pull
// endpoints) — one fasthttp.Client instance per process, per the
// teacher's own preference for a single pooled client over one-per-call.
type Client struct {
	hc *fasthttp.Client
}

func NewClient() *Client {
	return &Client{hc: &fasthttp.Client{
		MaxConnsPerHost:     256,
		MaxIdleConnDuration: 30 * time.Second,
	}}
}

// Call POSTs a JSON-encoded req to url and decodes the JSON reply into
// resp. A non-2xx status is classified into the §7 error taxonomy: 404
// maps to a permanent NamespaceNotFound-flavored failure, everything else
// non-2xx is treated as a transient NotMaster-flavored failure (the
// callee being momentarily unreachable or stepping down), matching the
// retry posture §7 assigns to transport-level failures.
func (c *Client) Call(ctx context.Context, url string, req, resp any) error {
	hreq := fasthttp.AcquireRequest()
	hresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(hreq)
	defer fasthttp.ReleaseResponse(hresp)

	body, err := jsoniter.Marshal(req)
	if err != nil {
		return cos.NewErrInvalidOptions("encoding request for %s: %v", url, err)
	}
	hreq.SetRequestURI(url)
	hreq.Header.SetMethod(fasthttp.MethodPost)
	hreq.Header.SetContentType("application/json")
	hreq.SetBody(body)

	deadline, hasDeadline := ctx.Deadline()
	var doErr error
	if hasDeadline {
		doErr = c.hc.DoDeadline(hreq, hresp, deadline)
	} else {
		doErr = c.hc.Do(hreq, hresp)
	}
	if doErr != nil {
		return cos.NewErrNetworkTimeout(url)
	}

	status := hresp.StatusCode()
	if status == fasthttp.StatusNotFound {
		return cos.NewErrNamespaceNotFound(url)
	}
	if status < 200 || status >= 300 {
		return cos.NewErrNotMaster(url)
	}
	if resp == nil {
		return nil
	}
	if err := jsoniter.Unmarshal(hresp.Body(), resp); err != nil {
		return fmt.Errorf("decoding reply from %s: %w", url, err)
	}
	return nil
}
