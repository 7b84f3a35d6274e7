// Package aosproto defines the message set the bridge and the
// interceptor actions exchange with the IAM and CM control planes.
// The .proto service schemas are owned by the control plane and no
// generated descriptor set is imported here; each message encodes
// itself with google.golang.org/protobuf/encoding/protowire directly,
// the same wire primitives protoc-gen-go would emit.
//
// Every oneof-style envelope below reserves one protobuf field number
// per case, exactly as a real `oneof` clause would on the wire.
package aosproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Case identifies which alternative of an envelope is populated.
type Case int

const (
	CaseNone Case = iota
	CaseStartProvisioningRequest
	CaseStartProvisioningResponse
	CaseRegisterNodeRequest
	CaseGetCertRequest
	CaseGetCertResponse
	CaseClockSyncRequest
	CaseClockSync
	CaseNodeStatus
	CaseImageContentRequest
	CaseImageContentInfo
	CaseImageContent
)

var caseNames = map[Case]string{
	CaseStartProvisioningRequest:  "StartProvisioningRequest",
	CaseStartProvisioningResponse: "StartProvisioningResponse",
	CaseRegisterNodeRequest:       "RegisterNodeRequest",
	CaseGetCertRequest:            "GetCertRequest",
	CaseGetCertResponse:           "GetCertResponse",
	CaseClockSyncRequest:          "ClockSyncRequest",
	CaseClockSync:                 "ClockSync",
	CaseNodeStatus:                "NodeStatus",
	CaseImageContentRequest:       "ImageContentRequest",
	CaseImageContentInfo:          "ImageContentInfo",
	CaseImageContent:              "ImageContent",
}

// String returns the message type name for logging, matching the name
// a real .proto oneof case would carry.
func (c Case) String() string {
	if name, ok := caseNames[c]; ok {
		return name
	}
	return "none"
}

// IAMEnvelope is the oneof carried on the IAM logical channel(s).
type IAMEnvelope struct {
	Case                      Case
	StartProvisioningRequest  *StartProvisioningRequest
	StartProvisioningResponse *StartProvisioningResponse
	RegisterNodeRequest       *RegisterNodeRequest
	GetCertRequest            *GetCertRequest
	GetCertResponse           *GetCertResponse
}

// CMEnvelope is the oneof carried on the CM logical channel(s).
type CMEnvelope struct {
	Case                Case
	ClockSyncRequest    *ClockSyncRequest
	ClockSync           *ClockSync
	NodeStatus          *NodeStatus
	ImageContentRequest *ImageContentRequest
	ImageContentInfo    *ImageContentInfo
	ImageContent        *ImageContent
}

type StartProvisioningRequest struct{ NodeID string }
type StartProvisioningResponse struct{ ErrorMessage string }

type RegisterNodeRequest struct{ NodeID string }

type GetCertRequest struct {
	Type    string
	Storage string
}

type GetCertResponse struct {
	CertURL string
	KeyURL  string
}

type ClockSyncRequest struct{}

type ClockSync struct {
	// CurrentTimeUnixNano is the daemon's wallclock at reply time,
	// encoded as nanoseconds since the Unix epoch.
	CurrentTimeUnixNano int64
}

// NodeStatus is the periodic node-state push forwarded to CM, modeled
// as an opaque state string since its detailed schema belongs to the
// control plane.
type NodeStatus struct{ State string }

type ImageContentRequest struct {
	URL         string
	RequestID   string
	ContentType string
}

type ImageFile struct {
	RelativePath string
	Sha256       []byte
	Size         uint64
}

type ErrorInfo struct {
	AosCode int32
	Message string
}

type ImageContentInfo struct {
	RequestID string
	Files     []ImageFile
	Error     *ErrorInfo
}

type ImageContent struct {
	RequestID    string
	RelativePath string
	PartsCount   uint32
	Part         uint32
	Data         []byte
}

// --- leaf marshal/unmarshal -------------------------------------------------

func marshalStartProvisioningRequest(m *StartProvisioningRequest) []byte {
	var b []byte
	if m.NodeID != "" {
		b = appendString(b, 1, m.NodeID)
	}
	return b
}

func unmarshalStartProvisioningRequest(b []byte) (*StartProvisioningRequest, error) {
	m := &StartProvisioningRequest{}
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			m.NodeID = string(v)
		}
		return nil
	})
}

func marshalStartProvisioningResponse(m *StartProvisioningResponse) []byte {
	var b []byte
	if m.ErrorMessage != "" {
		b = appendString(b, 1, m.ErrorMessage)
	}
	return b
}

func unmarshalStartProvisioningResponse(b []byte) (*StartProvisioningResponse, error) {
	m := &StartProvisioningResponse{}
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			m.ErrorMessage = string(v)
		}
		return nil
	})
}

func marshalRegisterNodeRequest(m *RegisterNodeRequest) []byte {
	return appendString(nil, 1, m.NodeID)
}

func unmarshalRegisterNodeRequest(b []byte) (*RegisterNodeRequest, error) {
	m := &RegisterNodeRequest{}
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			m.NodeID = string(v)
		}
		return nil
	})
}

func marshalGetCertRequest(m *GetCertRequest) []byte {
	var b []byte
	b = appendString(b, 1, m.Type)
	b = appendString(b, 2, m.Storage)
	return b
}

func unmarshalGetCertRequest(b []byte) (*GetCertRequest, error) {
	m := &GetCertRequest{}
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Type = string(v)
		case 2:
			m.Storage = string(v)
		}
		return nil
	})
}

func marshalGetCertResponse(m *GetCertResponse) []byte {
	var b []byte
	b = appendString(b, 1, m.CertURL)
	b = appendString(b, 2, m.KeyURL)
	return b
}

func unmarshalGetCertResponse(b []byte) (*GetCertResponse, error) {
	m := &GetCertResponse{}
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.CertURL = string(v)
		case 2:
			m.KeyURL = string(v)
		}
		return nil
	})
}

func marshalClockSyncRequest(*ClockSyncRequest) []byte { return nil }

func unmarshalClockSyncRequest(b []byte) (*ClockSyncRequest, error) {
	return &ClockSyncRequest{}, nil
}

func marshalClockSync(m *ClockSync) []byte {
	var b []byte
	if m.CurrentTimeUnixNano != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CurrentTimeUnixNano))
	}
	return b
}

func unmarshalClockSync(b []byte) (*ClockSync, error) {
	m := &ClockSync{}
	err := walkRawFields(b, func(num protowire.Number, typ protowire.Type, tail []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad varint in ClockSync")
			}
			m.CurrentTimeUnixNano = int64(v)
			return n, nil
		}
		return skipField(typ, tail)
	})
	return m, err
}

func marshalNodeStatus(m *NodeStatus) []byte {
	return appendString(nil, 1, m.State)
}

func unmarshalNodeStatus(b []byte) (*NodeStatus, error) {
	m := &NodeStatus{}
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			m.State = string(v)
		}
		return nil
	})
}

func marshalImageContentRequest(m *ImageContentRequest) []byte {
	var b []byte
	b = appendString(b, 1, m.URL)
	b = appendString(b, 2, m.RequestID)
	b = appendString(b, 3, m.ContentType)
	return b
}

func unmarshalImageContentRequest(b []byte) (*ImageContentRequest, error) {
	m := &ImageContentRequest{}
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.URL = string(v)
		case 2:
			m.RequestID = string(v)
		case 3:
			m.ContentType = string(v)
		}
		return nil
	})
}

func marshalImageFile(m *ImageFile) []byte {
	var b []byte
	b = appendString(b, 1, m.RelativePath)
	if len(m.Sha256) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Sha256)
	}
	if m.Size != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Size)
	}
	return b
}

func unmarshalImageFile(b []byte) (ImageFile, error) {
	m := ImageFile{}
	err := walkRawFields(b, func(num protowire.Number, typ protowire.Type, tail []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad bytes field 1 in ImageFile")
			}
			m.RelativePath = string(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad bytes field 2 in ImageFile")
			}
			m.Sha256 = append([]byte(nil), v...)
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad varint field 3 in ImageFile")
			}
			m.Size = v
			return n, nil
		default:
			return skipField(typ, tail)
		}
	})
	return m, err
}

func marshalErrorInfo(m *ErrorInfo) []byte {
	var b []byte
	if m.AosCode != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.AosCode))
	}
	b = appendString(b, 2, m.Message)
	return b
}

func unmarshalErrorInfo(b []byte) (*ErrorInfo, error) {
	m := &ErrorInfo{}
	err := walkRawFields(b, func(num protowire.Number, typ protowire.Type, tail []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad varint in ErrorInfo")
			}
			m.AosCode = int32(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad bytes in ErrorInfo")
			}
			m.Message = string(v)
			return n, nil
		default:
			return skipField(typ, tail)
		}
	})
	return m, err
}

func marshalImageContentInfo(m *ImageContentInfo) []byte {
	var b []byte
	b = appendString(b, 1, m.RequestID)
	for _, f := range m.Files {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalImageFile(&f))
	}
	if m.Error != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalErrorInfo(m.Error))
	}
	return b
}

func unmarshalImageContentInfo(b []byte) (*ImageContentInfo, error) {
	m := &ImageContentInfo{}
	err := walkRawFields(b, func(num protowire.Number, typ protowire.Type, tail []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad bytes field 1 in ImageContentInfo")
			}
			m.RequestID = string(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad bytes field 2 in ImageContentInfo")
			}
			f, err := unmarshalImageFile(v)
			if err != nil {
				return 0, err
			}
			m.Files = append(m.Files, f)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			if n < 0 {
				return 0, fmt.Errorf("aosproto: bad bytes field 3 in ImageContentInfo")
			}
			e, err := unmarshalErrorInfo(v)
			if err != nil {
				return 0, err
			}
			m.Error = e
			return n, nil
		default:
			return skipField(typ, tail)
		}
	})
	return m, err
}

func marshalImageContent(m *ImageContent) []byte {
	var b []byte
	b = appendString(b, 1, m.RequestID)
	b = appendString(b, 2, m.RelativePath)
	if m.PartsCount != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.PartsCount))
	}
	if m.Part != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Part))
	}
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	return b
}

func unmarshalImageContent(b []byte) (*ImageContent, error) {
	m := &ImageContent{}
	err := walkRawFields(b, func(num protowire.Number, typ protowire.Type, tail []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			m.RequestID = string(v)
			return n, checkConsumed(n)
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			m.RelativePath = string(v)
			return n, checkConsumed(n)
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(tail)
			m.PartsCount = uint32(v)
			return n, checkConsumed(n)
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(tail)
			m.Part = uint32(v)
			return n, checkConsumed(n)
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(tail)
			if n >= 0 {
				m.Data = append([]byte(nil), v...)
			}
			return n, checkConsumed(n)
		default:
			return skipField(typ, tail)
		}
	})
	return m, err
}

// --- envelope marshal/unmarshal ---------------------------------------------

// Marshal encodes an IAMEnvelope as a single-field oneof, the field
// number matching e.Case.
func (e *IAMEnvelope) Marshal() ([]byte, error) {
	var inner []byte
	switch e.Case {
	case CaseStartProvisioningRequest:
		inner = marshalStartProvisioningRequest(e.StartProvisioningRequest)
	case CaseStartProvisioningResponse:
		inner = marshalStartProvisioningResponse(e.StartProvisioningResponse)
	case CaseRegisterNodeRequest:
		inner = marshalRegisterNodeRequest(e.RegisterNodeRequest)
	case CaseGetCertRequest:
		inner = marshalGetCertRequest(e.GetCertRequest)
	case CaseGetCertResponse:
		inner = marshalGetCertResponse(e.GetCertResponse)
	default:
		return nil, fmt.Errorf("aosproto: IAMEnvelope has no case set")
	}
	var b []byte
	b = protowire.AppendTag(b, protowire.Number(e.Case), protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b, nil
}

// UnmarshalIAMEnvelope parses a single-field oneof produced by Marshal.
func UnmarshalIAMEnvelope(b []byte) (*IAMEnvelope, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, fmt.Errorf("aosproto: malformed IAM envelope tag")
	}
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("aosproto: unexpected wire type %d for IAM envelope", typ)
	}
	inner, m := protowire.ConsumeBytes(b[n:])
	if m < 0 {
		return nil, fmt.Errorf("aosproto: malformed IAM envelope body")
	}
	e := &IAMEnvelope{Case: Case(num)}
	var err error
	switch e.Case {
	case CaseStartProvisioningRequest:
		e.StartProvisioningRequest, err = unmarshalStartProvisioningRequest(inner)
	case CaseStartProvisioningResponse:
		e.StartProvisioningResponse, err = unmarshalStartProvisioningResponse(inner)
	case CaseRegisterNodeRequest:
		e.RegisterNodeRequest, err = unmarshalRegisterNodeRequest(inner)
	case CaseGetCertRequest:
		e.GetCertRequest, err = unmarshalGetCertRequest(inner)
	case CaseGetCertResponse:
		e.GetCertResponse, err = unmarshalGetCertResponse(inner)
	default:
		return nil, fmt.Errorf("aosproto: unknown IAM envelope case %d", num)
	}
	return e, err
}

// Marshal encodes a CMEnvelope the same way IAMEnvelope does.
func (e *CMEnvelope) Marshal() ([]byte, error) {
	var inner []byte
	switch e.Case {
	case CaseClockSyncRequest:
		inner = marshalClockSyncRequest(e.ClockSyncRequest)
	case CaseClockSync:
		inner = marshalClockSync(e.ClockSync)
	case CaseNodeStatus:
		inner = marshalNodeStatus(e.NodeStatus)
	case CaseImageContentRequest:
		inner = marshalImageContentRequest(e.ImageContentRequest)
	case CaseImageContentInfo:
		inner = marshalImageContentInfo(e.ImageContentInfo)
	case CaseImageContent:
		inner = marshalImageContent(e.ImageContent)
	default:
		return nil, fmt.Errorf("aosproto: CMEnvelope has no case set")
	}
	var b []byte
	b = protowire.AppendTag(b, protowire.Number(e.Case), protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b, nil
}

// UnmarshalCMEnvelope parses a single-field oneof produced by Marshal.
func UnmarshalCMEnvelope(b []byte) (*CMEnvelope, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, fmt.Errorf("aosproto: malformed CM envelope tag")
	}
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("aosproto: unexpected wire type %d for CM envelope", typ)
	}
	inner, m := protowire.ConsumeBytes(b[n:])
	if m < 0 {
		return nil, fmt.Errorf("aosproto: malformed CM envelope body")
	}
	e := &CMEnvelope{Case: Case(num)}
	var err error
	switch e.Case {
	case CaseClockSyncRequest:
		e.ClockSyncRequest, err = unmarshalClockSyncRequest(inner)
	case CaseClockSync:
		e.ClockSync, err = unmarshalClockSync(inner)
	case CaseNodeStatus:
		e.NodeStatus, err = unmarshalNodeStatus(inner)
	case CaseImageContentRequest:
		e.ImageContentRequest, err = unmarshalImageContentRequest(inner)
	case CaseImageContentInfo:
		e.ImageContentInfo, err = unmarshalImageContentInfo(inner)
	case CaseImageContent:
		e.ImageContent, err = unmarshalImageContent(inner)
	default:
		return nil, fmt.Errorf("aosproto: unknown CM envelope case %d", num)
	}
	return e, err
}

// --- shared wire helpers -----------------------------------------------------

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// walkFields iterates the length-delimited (string/bytes) fields of a
// message, the common case for the mostly-string messages above.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	return walkRawFields(b, func(num protowire.Number, typ protowire.Type, tail []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField(typ, tail)
		}
		v, n := protowire.ConsumeBytes(tail)
		if n < 0 {
			return 0, fmt.Errorf("aosproto: malformed bytes field %d", num)
		}
		if err := fn(num, typ, v); err != nil {
			return 0, err
		}
		return n, nil
	})
}

// walkRawFields drives a tag-by-tag scan over b, calling fn with the
// tail starting at the field's value; fn must return the number of
// bytes it consumed from tail (or use skipField for fields it ignores).
func walkRawFields(b []byte, fn func(num protowire.Number, typ protowire.Type, tail []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("aosproto: malformed tag")
		}
		b = b[n:]
		consumed, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if consumed < 0 {
			return fmt.Errorf("aosproto: malformed field %d", num)
		}
		b = b[consumed:]
	}
	return nil
}

func skipField(typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("aosproto: unable to skip field of type %d", typ)
	}
	return n, nil
}

func checkConsumed(n int) error {
	if n < 0 {
		return fmt.Errorf("aosproto: malformed field")
	}
	return nil
}
