package auction

import (
	"path"
)

// Topic is the root of the collaborator pubsub namespace.
const Topic string = "/bidledger/0.0.1"

// EscrowTopic is used by the ledger to send instructions to an escrow contract.
// "/bidledger/0.0.1/escrow/<contract>".
func EscrowTopic(contract Principal) string {
	return path.Join(Topic, "escrow", string(contract))
}

// OracleTopic is used by the ledger to send instructions to an oracle contract.
// "/bidledger/0.0.1/oracle/<contract>".
func OracleTopic(contract Principal) string {
	return path.Join(Topic, "oracle", string(contract))
}

// InstructionTopic returns the topic an instruction is delivered on.
func InstructionTopic(i Instruction) string {
	if i.Kind.Oracle() {
		return OracleTopic(i.Contract)
	}
	return EscrowTopic(i.Contract)
}
