// Package wallet defines the wallet-signing collaborator at its interface
// boundary and the login exchange against the relay. The wallet itself is
// external (browser-injected in the original client); no implementation is
// shipped here.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrSigningDeclined indicates the user refused the one-shot signature
// request.
var ErrSigningDeclined = errors.New("wallet signing declined")

// SignedLogin is the wallet facility's result: the exact message that was
// signed and its signature.
type SignedLogin struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Signer is the wallet-signing facility. Sign requests one signature over
// message from the wallet holding address, or fails with a signing error.
type Signer interface {
	Sign(ctx context.Context, address, message string) (SignedLogin, error)
}

// LoginMessage builds the canonical text the wallet signs.
func LoginMessage(address string, at time.Time) string {
	return fmt.Sprintf("Login to Chatter at %s with wallet: %s", at.UTC().Format(time.RFC3339), address)
}

// Credentials is a successful login: the relay-issued token for the given
// wallet address.
type Credentials struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

type loginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Login performs the one-shot login flow: build the canonical message, have
// the wallet sign it, and exchange the signed payload for a token at the
// relay's auth endpoint.
func Login(ctx context.Context, client *http.Client, relayURL, address string, signer Signer) (Credentials, error) {
	if client == nil {
		client = http.DefaultClient
	}

	msg := LoginMessage(address, time.Now())
	signed, err := signer.Sign(ctx, address, msg)
	if err != nil {
		return Credentials{}, fmt.Errorf("sign login message: %w", err)
	}

	body, err := json.Marshal(loginRequest{
		Address:   address,
		Message:   signed.Message,
		Signature: signed.Signature,
	})
	if err != nil {
		return Credentials{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("login rejected: %s", resp.Status)
	}

	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return Credentials{}, fmt.Errorf("decode login response: %w", err)
	}
	creds.Address = address
	return creds, nil
}
