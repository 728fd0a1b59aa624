package interfaces

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

// Principal is an account identity supplied by the host's transaction signing.
type Principal [20]byte

// NewPrincipalFromHex parses a 40-char hex address, with or without 0x prefix.
func NewPrincipalFromHex(addr string) (Principal, error) {
	if !common.IsHexAddress(addr) {
		return Principal{}, fmt.Errorf("invalid principal address: %q", addr)
	}
	return Principal(common.HexToAddress(addr)), nil
}

// PrincipalFromAddress converts a go-ethereum address.
func PrincipalFromAddress(addr common.Address) Principal {
	return Principal(addr)
}

// Address returns the go-ethereum representation.
func (p Principal) Address() common.Address {
	return common.Address(p)
}

// String returns the EIP-55 checksummed hex form.
func (p Principal) String() string {
	return common.Address(p).Hex()
}

// Bytes returns the raw 20-byte address.
func (p Principal) Bytes() []byte {
	return p[:]
}

// IsZero reports whether p is the zero address.
func (p Principal) IsZero() bool {
	return p == Principal{}
}

func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := NewPrincipalFromHex(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MaxTemplateNameLength bounds template names.
const MaxTemplateNameLength = 64

var ErrInvalidTemplateName = errors.New("invalid template name")

// TemplateName is the unique, bounded ASCII identifier of a template.
type TemplateName string

// NewTemplateName validates a template name. Names are 1 to 64 printable,
// non-space ASCII characters and may not contain '/'.
func NewTemplateName(name string) (TemplateName, error) {
	if len(name) == 0 || len(name) > MaxTemplateNameLength {
		return "", fmt.Errorf("%w: length must be between 1 and %d", ErrInvalidTemplateName, MaxTemplateNameLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' || c == '/' {
			return "", fmt.Errorf("%w: character %q at offset %d", ErrInvalidTemplateName, c, i)
		}
	}
	return TemplateName(name), nil
}

// String returns the name as a string.
func (n TemplateName) String() string {
	return string(n)
}

// Validate checks the name against the rules of NewTemplateName.
func (n TemplateName) Validate() error {
	_, err := NewTemplateName(string(n))
	return err
}

// TemplateStatus is the lifecycle state of a template.
type TemplateStatus uint8

const (
	StatusRegistered TemplateStatus = iota + 1
	StatusApproved
)

func (s TemplateStatus) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusApproved:
		return "approved"
	default:
		return "unknown"
	}
}

// ParseTemplateStatus is the inverse of TemplateStatus.String.
func ParseTemplateStatus(s string) (TemplateStatus, error) {
	switch s {
	case "registered":
		return StatusRegistered, nil
	case "approved":
		return StatusApproved, nil
	default:
		return 0, fmt.Errorf("unknown template status %q", s)
	}
}

func (s TemplateStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TemplateStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTemplateStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Admin is a member of the admin set.
type Admin struct {
	Principal Principal `json:"principal"`
	// AddedBy is the zero principal for the deployer.
	AddedBy Principal `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
	Seq     uint64    `json:"seq"`
}

// Template is one registry record. Code is write-once.
type Template struct {
	Name       TemplateName   `json:"name"`
	Code       hexutil.Bytes  `json:"code"`
	CodeID     ContentID      `json:"code_id"`
	Status     TemplateStatus `json:"status"`
	Registrant Principal      `json:"registrant"`
	// Approver and ApprovedAt are zero until the template is approved.
	Approver     Principal `json:"approver"`
	RegisteredAt time.Time `json:"registered_at"`
	ApprovedAt   time.Time `json:"approved_at"`
	Seq          uint64    `json:"seq"`
	ApprovedSeq  uint64    `json:"approved_seq,omitempty"`
}

// Approved reports whether generation is allowed from this template.
func (t *Template) Approved() bool {
	return t.Status == StatusApproved
}

// Clone returns a deep copy.
func (t Template) Clone() Template {
	t.Code = append(hexutil.Bytes(nil), t.Code...)
	return t
}

// GenerationEvent is an immutable record of a generate-contract call.
type GenerationEvent struct {
	EventID        uint64        `json:"event-id"`
	TemplateName   TemplateName  `json:"template-name"`
	DeploymentData hexutil.Bytes `json:"deployment-data"`
	Caller         Principal     `json:"caller"`
	CodeID         ContentID     `json:"code-id"`
	CreatedAt      time.Time     `json:"created-at"`
	Digest         common.Hash   `json:"digest"`
}

// Clone returns a deep copy.
func (e GenerationEvent) Clone() GenerationEvent {
	e.DeploymentData = append(hexutil.Bytes(nil), e.DeploymentData...)
	return e
}

// ComputeDigest hashes the RFC 8785 canonical JSON of the event with
// Keccak-256. The Digest field itself is excluded.
func (e *GenerationEvent) ComputeDigest() (common.Hash, error) {
	body := e.Clone()
	body.Digest = common.Hash{}

	raw, err := json.Marshal(struct {
		EventID        uint64        `json:"event-id"`
		TemplateName   TemplateName  `json:"template-name"`
		DeploymentData hexutil.Bytes `json:"deployment-data"`
		Caller         Principal     `json:"caller"`
		CodeID         ContentID     `json:"code-id"`
		CreatedAt      int64         `json:"created-at"`
	}{
		EventID:        body.EventID,
		TemplateName:   body.TemplateName,
		DeploymentData: body.DeploymentData,
		Caller:         body.Caller,
		CodeID:         body.CodeID,
		CreatedAt:      body.CreatedAt.UnixNano(),
	})
	if err != nil {
		return common.Hash{}, err
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("canonicalize event: %w", err)
	}
	return crypto.Keccak256Hash(canonical), nil
}

// Snapshot is the full persisted state as returned by StateStore.Load.
type Snapshot struct {
	Admins    []Admin
	Templates []Template
	Events    []GenerationEvent
}

// DecodeHexBytes accepts hex with or without 0x prefix. The empty string
// decodes to an empty payload.
func DecodeHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
