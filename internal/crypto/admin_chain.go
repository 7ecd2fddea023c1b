package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MKhiriev/go-trust-engine/models"
)

// ErrAdministratorsChain is returned when an administrators chain is
// malformed or one of its blocks is not properly signed.
var ErrAdministratorsChain = errors.New("invalid administrators chain")

// AdministratorsBlock is one link of an administrators chain. Block 0 is
// signed by one of its own administrators; block n by an administrator of
// block n-1.
type AdministratorsBlock struct {
	// Nonce makes the first block, and so the group uid, unique.
	Nonce          []byte            `json:"nonce,omitempty"`
	Previous       []byte            `json:"previous,omitempty"`
	Administrators []models.Identity `json:"administrators"`
	Signer         models.Identity   `json:"signer"`
	Signature      []byte            `json:"signature"`
}

type blockContent struct {
	Nonce          []byte            `json:"nonce,omitempty"`
	Previous       []byte            `json:"previous,omitempty"`
	Administrators []models.Identity `json:"administrators"`
	Signer         models.Identity   `json:"signer"`
}

func (b AdministratorsBlock) content() []byte {
	// marshalling a struct of byte slices and text marshalers cannot fail
	out, _ := json.Marshal(blockContent{Nonce: b.Nonce, Previous: b.Previous, Administrators: b.Administrators, Signer: b.Signer})
	return out
}

func (b AdministratorsBlock) hash() []byte {
	h := Hash(b.content())
	return h[:]
}

func (b AdministratorsBlock) isAdministrator(id models.Identity) bool {
	for _, a := range b.Administrators {
		if a == id {
			return true
		}
	}
	return false
}

// AdministratorsChain is the verifiable history of a group v2 administrator
// set.
type AdministratorsChain struct {
	Blocks []AdministratorsBlock `json:"blocks"`
}

// NewAdministratorsChain starts a chain whose first block lists
// administrators. The creator must be one of them.
func NewAdministratorsChain(creator models.OwnedIdentity, administrators []models.Identity) (*AdministratorsChain, error) {
	nonce := make([]byte, PaddingSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate chain nonce: %w", err)
	}

	c := &AdministratorsChain{}
	if err := c.append(creator.PrivateIdentity.SignKey, creator.Identity, administrators, nil, nonce); err != nil {
		return nil, err
	}
	return c, nil
}

// Append adds a block replacing the administrator set. signer must be an
// administrator of the last block.
func (c *AdministratorsChain) Append(signer models.OwnedIdentity, administrators []models.Identity) error {
	if len(c.Blocks) == 0 {
		return fmt.Errorf("%w: empty chain", ErrAdministratorsChain)
	}
	last := c.Blocks[len(c.Blocks)-1]
	if !last.isAdministrator(signer.Identity) {
		return fmt.Errorf("%w: signer is not an administrator", ErrAdministratorsChain)
	}
	return c.append(signer.PrivateIdentity.SignKey, signer.Identity, administrators, last.hash(), nil)
}

func (c *AdministratorsChain) append(priv ed25519.PrivateKey, signer models.Identity, administrators []models.Identity, previous, nonce []byte) error {
	b := AdministratorsBlock{Nonce: nonce, Previous: previous, Administrators: administrators, Signer: signer}
	if previous == nil && !b.isAdministrator(signer) {
		return fmt.Errorf("%w: creator must be an administrator", ErrAdministratorsChain)
	}

	sig, err := SignChallenge(priv, ChallengeAdministratorsBlock, b.content())
	if err != nil {
		return err
	}
	b.Signature = sig
	c.Blocks = append(c.Blocks, b)
	return nil
}

// Administrators returns the current administrator set.
func (c *AdministratorsChain) Administrators() []models.Identity {
	if len(c.Blocks) == 0 {
		return nil
	}
	return c.Blocks[len(c.Blocks)-1].Administrators
}

// IsAdministrator reports whether id is in the current administrator set.
func (c *AdministratorsChain) IsAdministrator(id models.Identity) bool {
	if len(c.Blocks) == 0 {
		return false
	}
	return c.Blocks[len(c.Blocks)-1].isAdministrator(id)
}

// GroupUID returns the group uid the chain was created for: the hash of the
// first block.
func (c *AdministratorsChain) GroupUID() (models.UID, error) {
	if len(c.Blocks) == 0 {
		return models.UID{}, fmt.Errorf("%w: empty chain", ErrAdministratorsChain)
	}
	return models.ParseUID(c.Blocks[0].hash())
}

// Verify checks every link and signature and returns the group uid.
func (c *AdministratorsChain) Verify() (models.UID, error) {
	if len(c.Blocks) == 0 {
		return models.UID{}, fmt.Errorf("%w: empty chain", ErrAdministratorsChain)
	}

	for i, b := range c.Blocks {
		if i == 0 {
			if b.Previous != nil || !b.isAdministrator(b.Signer) {
				return models.UID{}, fmt.Errorf("%w: bad first block", ErrAdministratorsChain)
			}
		} else {
			prev := c.Blocks[i-1]
			if !bytes.Equal(b.Previous, prev.hash()) {
				return models.UID{}, fmt.Errorf("%w: block %d does not follow block %d", ErrAdministratorsChain, i, i-1)
			}
			if !prev.isAdministrator(b.Signer) {
				return models.UID{}, fmt.Errorf("%w: block %d signer is not an administrator", ErrAdministratorsChain, i)
			}
		}
		if err := VerifyChallenge(b.Signer, ChallengeAdministratorsBlock, b.content(), b.Signature); err != nil {
			return models.UID{}, fmt.Errorf("%w: block %d: %w", ErrAdministratorsChain, i, err)
		}
	}
	return c.GroupUID()
}

// Encode returns the stored form of the chain.
func (c *AdministratorsChain) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeAdministratorsChain parses the output of [AdministratorsChain.Encode].
func DecodeAdministratorsChain(b []byte) (*AdministratorsChain, error) {
	var c AdministratorsChain
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdministratorsChain, err)
	}
	return &c, nil
}

// Extends reports whether c starts with every block of prefix.
func (c *AdministratorsChain) Extends(prefix *AdministratorsChain) bool {
	if len(prefix.Blocks) > len(c.Blocks) {
		return false
	}
	for i, b := range prefix.Blocks {
		if !bytes.Equal(b.hash(), c.Blocks[i].hash()) {
			return false
		}
	}
	return true
}
