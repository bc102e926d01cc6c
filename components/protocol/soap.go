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
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/utils/str"
)

const (
	Soap11Namespace = "http://schemas.xmlsoap.org/soap/envelope/"
	Soap12Namespace = "http://www.w3.org/2003/05/soap-envelope"

	Soap11ContentType = "text/xml; charset=utf-8"
	Soap12ContentType = "application/soap+xml; charset=utf-8"

	SoapActionKey = "SOAPAction"
)

// SoapHandler calls SOAP 1.1 and 1.2 services over HTTP POST.
//
// The outbound XML payload becomes the single child of the envelope Body, unless
// it already is an Envelope. Target.Operation is sent as the SOAP action:
// the SOAPAction header for 1.1, the action parameter of the content type for 1.2.
//
// A Fault in the response is a permanent backend fault carrying the fault code
// and reason. Otherwise the response payload is the single child element of the
// Body, or the Body itself when it holds several elements.
type SoapHandler struct {
	options
}

// NewSoapHandler 创建SOAP处理器
func NewSoapHandler(opts ...Option) *SoapHandler {
	return &SoapHandler{options: newOptions(opts)}
}

func (h *SoapHandler) Supports(protocol string) bool {
	return protocol == types.ProtocolSoap
}

func (h *SoapHandler) Invoke(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
	v12 := isSoap12(call.Target.SoapVersion)
	envelope, err := buildEnvelope(call.Payload, v12)
	if err != nil {
		return nil, err
	}
	req, err := newHTTPRequest(call, http.MethodPost, envelope)
	if err != nil {
		return nil, err
	}
	action := strings.TrimSpace(call.Target.Operation)
	if v12 {
		req.contentType = Soap12ContentType
		if action != "" {
			req.contentType += `; action="` + action + `"`
		}
	} else {
		req.contentType = Soap11ContentType
		req.headers.Set(SoapActionKey, `"`+action+`"`)
	}

	resp, b, err := h.do(ctx, call, req)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	parseErr := doc.ReadFromBytes(b)
	if parseErr == nil && doc.Root() == nil {
		parseErr = errors.New("no root element")
	}
	if parseErr == nil {
		if body := soapBody(doc.Root()); body != nil {
			if fault := childByLocal(body, "Fault"); fault != nil {
				return nil, soapFault(resp.StatusCode, fault)
			}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusFault(resp.StatusCode, b)
	}
	if parseErr != nil {
		return nil, types.WrapError(types.KindBackendFault, parseErr, "invalid SOAP response")
	}
	payload, err := extractBody(doc)
	if err != nil {
		return nil, err
	}
	return &types.RawResponse{
		Status:  resp.StatusCode,
		Headers: types.HeadersFromHTTP(resp.Header),
		Payload: types.NewPayload(types.XML, payload),
	}, nil
}

func (h *SoapHandler) TranslateFault(err error) *types.GatewayError {
	return translateHTTPError(err)
}

func isSoap12(version string) bool {
	return strings.TrimSpace(version) == "1.2"
}

// buildEnvelope wraps the payload into a SOAP envelope.
func buildEnvelope(payload types.Payload, v12 bool) ([]byte, error) {
	ns := Soap11Namespace
	if v12 {
		ns = Soap12Namespace
	}
	var content *etree.Element
	if !payload.IsEmpty() {
		if payload.Kind == types.JSON {
			return nil, types.NewError(types.KindPayloadMalformed, "SOAP payload must be XML, got %s", payload.Kind)
		}
		in := etree.NewDocument()
		if err := in.ReadFromBytes(payload.Data); err != nil {
			return nil, types.WrapError(types.KindPayloadMalformed, err, "invalid SOAP payload")
		}
		content = in.Root()
		if content == nil {
			return nil, types.NewError(types.KindPayloadMalformed, "SOAP payload has no root element")
		}
		if content.Tag == "Envelope" {
			return payload.Data, nil
		}
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", ns)
	env.CreateElement("soapenv:Header")
	body := env.CreateElement("soapenv:Body")
	if content != nil {
		body.AddChild(content.Copy())
	}
	return doc.WriteToBytes()
}

// soapBody 返回Envelope下的Body元素
func soapBody(root *etree.Element) *etree.Element {
	if root == nil || root.Tag != "Envelope" {
		return nil
	}
	return childByLocal(root, "Body")
}

func childByLocal(e *etree.Element, local string) *etree.Element {
	for _, c := range e.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// soapFault reads faultcode/faultstring (1.1) or Code/Value and Reason/Text (1.2).
func soapFault(status int, fault *etree.Element) *types.GatewayError {
	var code, reason string
	var detail *etree.Element
	if c := childByLocal(fault, "faultcode"); c != nil {
		code = strings.TrimSpace(c.Text())
		if r := childByLocal(fault, "faultstring"); r != nil {
			reason = strings.TrimSpace(r.Text())
		}
		detail = childByLocal(fault, "detail")
	} else {
		if c := childByLocal(fault, "Code"); c != nil {
			if v := childByLocal(c, "Value"); v != nil {
				code = strings.TrimSpace(v.Text())
			}
		}
		if r := childByLocal(fault, "Reason"); r != nil {
			if t := childByLocal(r, "Text"); t != nil {
				reason = strings.TrimSpace(t.Text())
			}
		}
		detail = childByLocal(fault, "Detail")
	}
	e := types.NewBackendFault(status, false, "SOAP fault %s: %s", code, reason)
	e.FaultCode = code
	e.FaultDetail = reason
	if detail != nil {
		d := etree.NewDocument()
		d.SetRoot(detail.Copy())
		if s, err := d.WriteToString(); err == nil {
			e.FaultDetail = str.Truncate(s, 1024)
		}
	}
	return e
}

// extractBody returns the payload carried by the response envelope. Namespace
// declarations of the envelope are copied onto the extracted element.
func extractBody(doc *etree.Document) ([]byte, error) {
	root := doc.Root()
	body := soapBody(root)
	if body == nil {
		var buf bytes.Buffer
		if _, err := doc.WriteTo(&buf); err != nil {
			return nil, types.WrapError(types.KindBackendFault, err, "invalid SOAP response")
		}
		return buf.Bytes(), nil
	}
	var out *etree.Element
	children := body.ChildElements()
	if len(children) == 1 {
		out = children[0].Copy()
	} else {
		out = body.Copy()
	}
	for _, scope := range []*etree.Element{root, body} {
		for _, a := range scope.Attr {
			if !isNamespaceDecl(a) || a.Value == Soap11Namespace || a.Value == Soap12Namespace {
				continue
			}
			if out.SelectAttr(a.FullKey()) == nil {
				out.CreateAttr(a.FullKey(), a.Value)
			}
		}
	}
	d := etree.NewDocument()
	d.SetRoot(out)
	return d.WriteToBytes()
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}
