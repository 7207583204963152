package channel

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"

	"github.com/danmuck/tether/internal/protocol/wire"
)

const (
	chunkLenSize = 2
	pemBlockType = "PUBLIC KEY"
)

// exchange runs one side of the key exchange over raw conn:
//
//	-> BYTES(PEM public key)
//	<- BYTES(PEM public key)
//	-> { u16(len) || RSA-OAEP(chunk) }* u16(0)
//	<- { u16(len) || RSA-OAEP(chunk) }* u16(0)
//
// It returns the local (send) and peer (receive) keystreams.
func exchange(conn net.Conn, cfg Config) ([]byte, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, cfg.KeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate key: %w", ErrHandshake, err)
	}
	pubPEM, err := encodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	sendKey := make([]byte, cfg.KeystreamLen)
	if _, err := rand.Read(sendKey); err != nil {
		return nil, nil, fmt.Errorf("%w: keystream: %w", ErrHandshake, err)
	}

	peerKey := make(chan *rsa.PublicKey, 1)
	abort := make(chan struct{})
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sendHalf(conn, pubPEM, sendKey, peerKey, abort)
	}()

	recvKey, err := receiveHalf(conn, priv, cfg, peerKey)
	if err != nil {
		close(abort)
		<-sendErr
		return nil, nil, err
	}
	if err := <-sendErr; err != nil {
		return nil, nil, err
	}
	return sendKey, recvKey, nil
}

func sendHalf(conn net.Conn, pubPEM []byte, key []byte, peerKey <-chan *rsa.PublicKey, abort <-chan struct{}) error {
	if err := wire.SendBytes(conn, pubPEM); err != nil {
		return fmt.Errorf("%w: send public key: %w", ErrHandshake, err)
	}
	var peer *rsa.PublicKey
	select {
	case peer = <-peerKey:
	case <-abort:
		return ErrHandshake
	}
	frame, err := encryptKeystream(peer, key)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("%w: send keystream: %w", ErrHandshake, err)
	}
	return nil
}

func receiveHalf(conn net.Conn, priv *rsa.PrivateKey, cfg Config, peerKey chan<- *rsa.PublicKey) ([]byte, error) {
	raw, err := wire.ReceiveBytesLimit(conn, cfg.MaxPublicKeyBytes)
	if err != nil {
		// Unblock our own send half if it is still writing.
		_ = conn.Close()
		return nil, fmt.Errorf("%w: receive public key: %w", ErrHandshake, err)
	}
	peer, err := decodePublicKey(raw)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	peerKey <- peer

	var key []byte
	maxCipher := priv.Size()
	for {
		var lenBuf [chunkLenSize]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: receive chunk length: %w", ErrHandshake, err)
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n == 0 {
			break
		}
		if n > maxCipher {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: chunk of %d bytes exceeds %d", ErrHandshake, n, maxCipher)
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(conn, chunk); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: receive chunk: %w", ErrHandshake, err)
		}
		plain, err := rsa.DecryptOAEP(sha256.New(), nil, priv, chunk, nil)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: decrypt chunk: %w", ErrHandshake, err)
		}
		key = append(key, plain...)
		if len(key) > cfg.MaxKeystreamLen {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: keystream exceeds %d bytes", ErrHandshake, cfg.MaxKeystreamLen)
		}
	}
	if len(key) == 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: empty keystream", ErrHandshake)
	}
	return key, nil
}

// maxChunk is the largest OAEP-SHA256 plaintext the key accepts.
func maxChunk(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

func encryptKeystream(peer *rsa.PublicKey, key []byte) ([]byte, error) {
	step := maxChunk(peer)
	if step <= 0 {
		return nil, fmt.Errorf("%w: peer key too small", ErrHandshake)
	}
	var out []byte
	for off := 0; off < len(key); off += step {
		end := min(off+step, len(key))
		ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, peer, key[off:end], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: encrypt chunk: %w", ErrHandshake, err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(ct)))
		out = append(out, ct...)
	}
	return binary.BigEndian.AppendUint16(out, 0), nil
}

func encodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %w", ErrHandshake, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der}), nil
}

func decodePublicKey(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemBlockType {
		return nil, fmt.Errorf("%w: peer sent no PEM public key", ErrHandshake)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %w", ErrHandshake, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: peer key is %T, want RSA", ErrHandshake, parsed)
	}
	if pub.Size() < 128 {
		return nil, fmt.Errorf("%w: peer key too small", ErrHandshake)
	}
	return pub, nil
}
