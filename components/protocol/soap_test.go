/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package protocol

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/rulego/gateway/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const soapResponse = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:m="urn:orders">
  <soap:Body>
    <m:CreateOrderResponse><m:status>OK</m:status></m:CreateOrderResponse>
  </soap:Body>
</soap:Envelope>`

const soap11Fault = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Client</faultcode>
      <faultstring>Order id is invalid</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

const soap12Fault = `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <env:Fault>
      <env:Code><env:Value>env:Receiver</env:Value></env:Code>
      <env:Reason><env:Text xml:lang="en">Database down</env:Text></env:Reason>
      <env:Detail><code>DB-1</code></env:Detail>
    </env:Fault>
  </env:Body>
</env:Envelope>`

func soapCall(address, version string, payload string) *types.Call {
	return &types.Call{
		RouteKey:      "orders.soap",
		Protocol:      types.ProtocolSoap,
		Target:        types.BackendTarget{Address: address, Operation: "urn:CreateOrder", SoapVersion: version},
		Payload:       types.NewPayload(types.XML, []byte(payload)),
		CorrelationId: "c-1",
		Attempt:       1,
	}
}

func TestSoapHandler11(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, Soap11ContentType, r.Header.Get(types.ContentTypeKey))
		assert.Equal(t, `"urn:CreateOrder"`, r.Header.Get(SoapActionKey))

		doc := etree.NewDocument()
		_, err := doc.ReadFrom(r.Body)
		assert.Nil(t, err)
		if root := doc.Root(); assert.NotNil(t, root) {
			assert.Equal(t, "Envelope", root.Tag)
			assert.Equal(t, Soap11Namespace, root.SelectAttrValue("xmlns:soapenv", ""))
			assert.Equal(t, "42", root.FindElement("./soapenv:Body/CreateOrder/id").Text())
		}

		w.Header().Set(types.ContentTypeKey, "text/xml; charset=utf-8")
		_, _ = w.Write([]byte(soapResponse))
	}))
	defer server.Close()

	raw, err := NewSoapHandler().Invoke(context.Background(), soapCall(server.URL, "", `<?xml version="1.0"?><CreateOrder><id>42</id></CreateOrder>`))
	require.Nil(t, err)
	assert.Equal(t, types.XML, raw.Payload.Kind)

	doc := etree.NewDocument()
	require.Nil(t, doc.ReadFromBytes(raw.Payload.Data))
	root := doc.Root()
	assert.Equal(t, "m:CreateOrderResponse", root.FullTag())
	assert.Equal(t, "urn:orders", root.SelectAttrValue("xmlns:m", ""))
	assert.Equal(t, "OK", root.SelectElement("m:status").Text())
}

func TestSoapHandler12(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, Soap12ContentType+`; action="urn:CreateOrder"`, r.Header.Get(types.ContentTypeKey))
		assert.Empty(t, r.Header.Get(SoapActionKey))
		b, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(b), Soap12Namespace))
		_, _ = w.Write([]byte(strings.ReplaceAll(soapResponse, Soap11Namespace, Soap12Namespace)))
	}))
	defer server.Close()

	raw, err := NewSoapHandler().Invoke(context.Background(), soapCall(server.URL, "1.2", `<CreateOrder/>`))
	require.Nil(t, err)
	assert.True(t, strings.Contains(raw.Payload.String(), "CreateOrderResponse"))
}

func TestSoapHandlerSendsEnvelopeAsIs(t *testing.T) {
	envelope := `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><Ping/></soapenv:Body></soapenv:Envelope>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, envelope, string(b))
		_, _ = w.Write([]byte(soapResponse))
	}))
	defer server.Close()

	_, err := NewSoapHandler().Invoke(context.Background(), soapCall(server.URL, "", envelope))
	require.Nil(t, err)
}

func TestSoapFaults(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   string
		detail string
	}{
		{"soap 1.1", soap11Fault, "soap:Client", "Order id is invalid"},
		{"soap 1.2", soap12Fault, "env:Receiver", "<env:Detail><code>DB-1</code></env:Detail>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewSoapHandler().Invoke(context.Background(), soapCall(server.URL, "", `<Ping/>`))
			ge, ok := types.AsGatewayError(err)
			require.True(t, ok)
			assert.Equal(t, types.KindBackendFault, ge.Kind)
			assert.Equal(t, 500, ge.UpstreamStatus)
			assert.Equal(t, tt.code, ge.FaultCode)
			assert.Equal(t, tt.detail, ge.FaultDetail)
			assert.False(t, ge.Transient)
		})
	}
}

func TestSoapHandlerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/unavailable" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("not xml"))
	}))
	defer server.Close()
	h := NewSoapHandler()

	_, err := h.Invoke(context.Background(), soapCall(server.URL+"/unavailable", "", `<Ping/>`))
	ge, _ := types.AsGatewayError(err)
	require.NotNil(t, ge)
	assert.True(t, ge.Transient)
	assert.Equal(t, "SERVICE_UNAVAILABLE", ge.FaultCode)

	_, err = h.Invoke(context.Background(), soapCall(server.URL, "", `<Ping/>`))
	assert.Equal(t, types.KindBackendFault, types.KindOf(err))

	call := soapCall(server.URL, "", "")
	call.Payload = types.NewPayload(types.JSON, []byte(`{"id":1}`))
	_, err = h.Invoke(context.Background(), call)
	assert.Equal(t, types.KindPayloadMalformed, types.KindOf(err))

	_, err = h.Invoke(context.Background(), soapCall(server.URL, "", `<broken`))
	assert.Equal(t, types.KindPayloadMalformed, types.KindOf(err))
}
