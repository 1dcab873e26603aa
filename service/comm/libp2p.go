package comm

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	cbor "github.com/ipfs/go-ipld-cbor"
	core "github.com/libp2p/go-libp2p-core/peer"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/collab"
	"github.com/oklog/ulid/v2"
)

func init() {
	cbor.RegisterCborType(Message{})
}

// Message is the wire envelope of an instruction. The ID keeps two identical
// instructions from sharing an acknowledgement.
type Message struct {
	ID          string
	Instruction auction.Instruction
}

func newMessage(i auction.Instruction) (Message, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return Message{}, fmt.Errorf("generating message id: %v", err)
	}
	return Message{ID: strings.ToLower(id.String()), Instruction: i}, nil
}

func (m Message) marshal() ([]byte, error) {
	b, err := cbor.DumpObject(&m)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %v", err)
	}
	return b, nil
}

func unmarshalMessage(b []byte) (Message, error) {
	var m Message
	if err := cbor.DecodeInto(b, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %v", err)
	}
	return m, nil
}

// ServeEscrow subscribes to the escrow topic of contract and applies every
// received instruction to e. The instruction is acknowledged once e accepts it.
func (ps *Libp2pPubsub) ServeEscrow(contract auction.Principal, e collab.Escrow) error {
	return ps.serve(auction.EscrowTopic(contract), contract, func(m Message) error {
		if m.Instruction.Kind.Oracle() {
			return fmt.Errorf("%s is not an escrow instruction", m.Instruction.Kind)
		}
		return collab.ApplyEscrow(ps.ctx, e, m.Instruction)
	})
}

// ServeOracle subscribes to the oracle topic of contract and applies every
// received instruction to o.
func (ps *Libp2pPubsub) ServeOracle(contract auction.Principal, o collab.Oracle) error {
	return ps.serve(auction.OracleTopic(contract), contract, func(m Message) error {
		if !m.Instruction.Kind.Oracle() {
			return fmt.Errorf("%s is not an oracle instruction", m.Instruction.Kind)
		}
		return o.VerifyAsset(ps.ctx, m.Instruction.AuctionID)
	})
}

func (ps *Libp2pPubsub) serve(topicName string, contract auction.Principal, apply func(Message) error) error {
	topic, err := ps.peer.NewTopic(ps.ctx, topicName, true)
	if err != nil {
		return fmt.Errorf("creating %s topic: %v", topicName, err)
	}
	topic.SetEventHandler(ps.eventHandler)
	topic.SetMessageHandler(func(from core.ID, topic string, msg []byte) ([]byte, error) {
		m, err := unmarshalMessage(msg)
		if err != nil {
			return nil, err
		}
		log.Debugf("%s received %s from %s", topic, m.Instruction, from)
		if m.Instruction.Contract != contract {
			return nil, fmt.Errorf("instruction addressed to %s", m.Instruction.Contract)
		}
		if err := apply(m); err != nil {
			log.Warnf("%s rejected %s: %v", contract, m.Instruction, err)
			return nil, err
		}
		return []byte(m.ID), nil
	})
	ps.finalizer.Add(topic)
	log.Infof("serving %s", topicName)
	return nil
}
