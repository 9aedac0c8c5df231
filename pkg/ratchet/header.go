package ratchet

import (
	"encoding/binary"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// header is the Double Ratchet message header: the sender's current DH
// public key, the length of its previous sending chain (so the receiver
// knows how many keys to skip on a DH ratchet), and the message number
// within the current sending chain.
type header struct {
	dhPublic            []byte // 32 bytes
	previousChainLength uint32
	messageNumber       uint32
}

const headerLen = 32 + 4 + 4

// encode serializes the header deterministically: a fixed-width binary
// layout, not JSON, since the header is never independently parsed or
// signed — only carried as AEAD associated data.
func (h header) encode() []byte {
	buf := make([]byte, headerLen)
	copy(buf[:32], h.dhPublic)
	binary.BigEndian.PutUint32(buf[32:36], h.previousChainLength)
	binary.BigEndian.PutUint32(buf[36:40], h.messageNumber)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != headerLen {
		return header{}, talerrors.NewError(talerrors.ErrInvalidArgument, "malformed ratchet header", nil)
	}
	h := header{
		dhPublic:            append([]byte(nil), buf[:32]...),
		previousChainLength: binary.BigEndian.Uint32(buf[32:36]),
		messageNumber:       binary.BigEndian.Uint32(buf[36:40]),
	}
	return h, nil
}
