package channel

import "github.com/ockam-go/securechannel/pkg/router"

// EncryptionRequest is the synchronous API surface over an Encryptor
// (spec section 4.6), named to match the request/response pair
// original_source/ockam_identity/tests/channel.rs exercises directly
// rather than through the routed worker interface.
type EncryptionRequest struct {
	Onward  router.Route
	Return  router.Route
	Payload []byte
}

// EncryptionResponse carries the sealed wire frame.
type EncryptionResponse struct {
	Frame []byte
}

// Encrypt is the request/response-shaped counterpart to Encryptor.Seal.
func (e *Encryptor) Encrypt(req EncryptionRequest) (EncryptionResponse, error) {
	frame, err := e.Seal(req.Onward, req.Return, req.Payload)
	if err != nil {
		return EncryptionResponse{}, err
	}
	return EncryptionResponse{Frame: frame}, nil
}

// DecryptionRequest is the synchronous API surface over a Decryptor.
type DecryptionRequest struct {
	Frame []byte
}

// DecryptionResponse carries the tunneled message's onward route,
// return route and application payload.
type DecryptionResponse struct {
	Onward  router.Route
	Return  router.Route
	Payload []byte
}

// Decrypt is the request/response-shaped counterpart to Decryptor.Open.
func (d *Decryptor) Decrypt(req DecryptionRequest) (DecryptionResponse, error) {
	onward, ret, payload, err := d.Open(req.Frame)
	if err != nil {
		return DecryptionResponse{}, err
	}
	return DecryptionResponse{Onward: onward, Return: ret, Payload: payload}, nil
}

// encryptorAPIWorker is Encrypt exposed at the channel's
// encryptor_api_address (spec section 3/4.6): a caller sends a message
// whose Payload is an encodeRoutedPayload-encoded EncryptionRequest
// (the tunnel's onward route, return route and application payload);
// the router message's own Return is the caller's own reply address,
// distinct from the routes being sealed. The reply payload is the raw
// sealed frame — the same bytes HandleMessage would otherwise forward
// over the transport route, handed back to the caller instead for
// administrative use (testing, manual channel composition).
type encryptorAPIWorker struct {
	enc *Encryptor
}

func (w encryptorAPIWorker) HandleMessage(ctx *router.Context, msg *router.Message) error {
	onward, ret, payload, err := decodeRoutedPayload(msg.Payload)
	if err != nil {
		return err
	}
	resp, err := w.enc.Encrypt(EncryptionRequest{Onward: onward, Return: ret, Payload: payload})
	if err != nil {
		return err
	}
	return ctx.Send(msg.Return, resp.Frame)
}

var _ router.Worker = encryptorAPIWorker{}

// decryptorAPIWorker is Decrypt exposed at the channel's
// decryptor_api_address: a caller sends a raw sealed frame as
// msg.Payload, and receives back an encodeRoutedPayload-encoded
// DecryptionResponse at msg.Return.
type decryptorAPIWorker struct {
	dec *Decryptor
}

func (w decryptorAPIWorker) HandleMessage(ctx *router.Context, msg *router.Message) error {
	resp, err := w.dec.Decrypt(DecryptionRequest{Frame: msg.Payload})
	if err != nil {
		return err
	}
	return ctx.Send(msg.Return, encodeRoutedPayload(resp.Onward, resp.Return, resp.Payload))
}

var _ router.Worker = decryptorAPIWorker{}
