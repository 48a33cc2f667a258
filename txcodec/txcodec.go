// Package txcodec defines the canonical byte layout of a frozen transaction
// as produced by the local chain adapter. A frozen envelope carries one
// immutable body, the node account ids the transaction was frozen for, and
// the signature pairs attached so far.
//
// Marshaling goes through Go structs with a fixed field order, so the same
// envelope always yields the same bytes. Signatures attach to the envelope
// without touching the body; the per-node signing bytes are therefore stable
// for the life of the frozen transaction.
package txcodec

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags the transaction body variant.
type Kind string

const (
	KindTransfer       Kind = "transfer"
	KindTokenAssociate Kind = "token-associate"
	KindTokenMint      Kind = "token-mint"
	KindContractCall   Kind = "contract-execute"
	KindContractCreate Kind = "contract-create"
	KindAccountCreate  Kind = "account-create"
	KindAccountUpdate  Kind = "account-update"
	KindAccountDelete  Kind = "account-delete"
	KindTopicCreate    Kind = "topic-create"
	KindTopicSubmit    Kind = "topic-submit"
	KindFileCreate     Kind = "file-create"
	KindFileAppend     Kind = "file-append"
	KindScheduleCreate Kind = "schedule-create"
	KindScheduleSign   Kind = "schedule-sign"
)

// TransactionID identifies a transaction by paying account and valid start.
type TransactionID struct {
	AccountID      string `json:"account_id"`
	ValidStartUnix int64  `json:"valid_start"`
}

// String renders the id in the conventional account@seconds form.
func (t TransactionID) String() string {
	return fmt.Sprintf("%s@%d", t.AccountID, t.ValidStartUnix)
}

// TransferEntry is one leg of a transfer. Amount is in tinybar for hbar
// transfers and in the token's smallest unit when TokenID is set.
type TransferEntry struct {
	AccountID  string  `json:"account_id"`
	Amount     int64   `json:"amount"`
	TokenID    string  `json:"token_id,omitempty"`
	NFTSerials []int64 `json:"nft_serials,omitempty"`
}

// TransferBody moves hbar and/or tokens between accounts.
type TransferBody struct {
	Transfers []TransferEntry `json:"transfers"`
}

// TokenAssociateBody associates tokens with an account.
type TokenAssociateBody struct {
	AccountID string   `json:"account_id"`
	TokenIDs  []string `json:"token_ids"`
}

// TokenMintBody mints fungible amount or NFT metadata entries.
type TokenMintBody struct {
	TokenID     string   `json:"token_id"`
	Amount      uint64   `json:"amount,omitempty"`
	MetadataB64 []string `json:"metadata,omitempty"`
}

// ContractCallBody executes a smart contract function. Parameters is the
// ABI-encoded call data including the 4-byte selector.
type ContractCallBody struct {
	ContractID           string `json:"contract_id"`
	Gas                  uint64 `json:"gas"`
	PayableAmountTinybar uint64 `json:"payable_amount"`
	Parameters           []byte `json:"parameters"`
}

// ContractCreateBody deploys a contract from an uploaded bytecode file.
type ContractCreateBody struct {
	BytecodeFileID        string `json:"bytecode_file_id"`
	Gas                   uint64 `json:"gas"`
	InitialBalanceTinybar uint64 `json:"initial_balance"`
	ConstructorParameters []byte `json:"constructor_parameters,omitempty"`
}

// AccountCreateBody creates an account controlled by Key.
type AccountCreateBody struct {
	Key                   string `json:"key"`
	InitialBalanceTinybar uint64 `json:"initial_balance"`
}

// AccountUpdateBody rotates an account's key or memo.
type AccountUpdateBody struct {
	AccountID string `json:"account_id"`
	Key       string `json:"key,omitempty"`
	Memo      string `json:"memo,omitempty"`
}

// AccountDeleteBody deletes an account, sweeping the balance.
type AccountDeleteBody struct {
	AccountID         string `json:"account_id"`
	TransferAccountID string `json:"transfer_account_id"`
}

// TopicCreateBody creates a consensus topic.
type TopicCreateBody struct {
	Memo string `json:"memo,omitempty"`
}

// TopicSubmitBody submits a message to a topic.
type TopicSubmitBody struct {
	TopicID    string `json:"topic_id"`
	MessageB64 string `json:"message"`
}

// FileCreateBody creates a file with the given contents.
type FileCreateBody struct {
	ContentsB64 string `json:"contents"`
}

// FileAppendBody appends contents to an existing file.
type FileAppendBody struct {
	FileID      string `json:"file_id"`
	ContentsB64 string `json:"contents"`
}

// ScheduleCreateBody schedules an inner transaction body for later execution.
type ScheduleCreateBody struct {
	ScheduledBodyB64 string `json:"scheduled_body"`
	Memo             string `json:"memo,omitempty"`
}

// ScheduleSignBody adds a signature to a scheduled transaction.
type ScheduleSignBody struct {
	ScheduleID string `json:"schedule_id"`
}

// Body is the immutable transaction body. Exactly one kind payload matching
// Kind must be set.
type Body struct {
	TransactionID        TransactionID `json:"transaction_id"`
	NodeAccountID        string        `json:"node_account_id"`
	MaxFeeTinybar        uint64        `json:"max_fee"`
	ValidDurationSeconds int64         `json:"valid_duration"`
	Memo                 string        `json:"memo,omitempty"`
	Kind                 Kind          `json:"kind"`

	Transfer       *TransferBody       `json:"transfer,omitempty"`
	TokenAssociate *TokenAssociateBody `json:"token_associate,omitempty"`
	TokenMint      *TokenMintBody      `json:"token_mint,omitempty"`
	ContractCall   *ContractCallBody   `json:"contract_call,omitempty"`
	ContractCreate *ContractCreateBody `json:"contract_create,omitempty"`
	AccountCreate  *AccountCreateBody  `json:"account_create,omitempty"`
	AccountUpdate  *AccountUpdateBody  `json:"account_update,omitempty"`
	AccountDelete  *AccountDeleteBody  `json:"account_delete,omitempty"`
	TopicCreate    *TopicCreateBody    `json:"topic_create,omitempty"`
	TopicSubmit    *TopicSubmitBody    `json:"topic_submit,omitempty"`
	FileCreate     *FileCreateBody     `json:"file_create,omitempty"`
	FileAppend     *FileAppendBody     `json:"file_append,omitempty"`
	ScheduleCreate *ScheduleCreateBody `json:"schedule_create,omitempty"`
	ScheduleSign   *ScheduleSignBody   `json:"schedule_sign,omitempty"`
}

// SignaturePair holds one signer's signatures, one entry per node body.
type SignaturePair struct {
	PublicKey  string   `json:"public_key"`
	Signatures [][]byte `json:"signatures"`
}

// Envelope is the frozen transaction: body, node set, attached signatures.
type Envelope struct {
	Body           Body            `json:"body"`
	NodeAccountIDs []string        `json:"node_account_ids"`
	SignaturePairs []SignaturePair `json:"signature_pairs,omitempty"`
}

// Marshal serializes the envelope into its canonical bytes.
func Marshal(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}
	return data, nil
}

// Unmarshal parses frozen bytes back into an envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "frozen bytes are not a valid envelope")
	}
	if env.Body.Kind == "" {
		return nil, errors.New("envelope body has no kind")
	}
	if len(env.NodeAccountIDs) == 0 {
		return nil, errors.New("envelope has no node account ids")
	}
	return &env, nil
}

// SigningBytes returns the canonical bytes a signer must sign for the given
// node index. The body is re-rendered with that node's account id; signature
// pairs never participate.
func SigningBytes(env *Envelope, nodeIndex int) ([]byte, error) {
	if nodeIndex < 0 || nodeIndex >= len(env.NodeAccountIDs) {
		return nil, errors.Errorf("node index %d out of range (have %d nodes)", nodeIndex, len(env.NodeAccountIDs))
	}
	body := env.Body
	body.NodeAccountID = env.NodeAccountIDs[nodeIndex]
	data, err := json.Marshal(&body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal node body")
	}
	return data, nil
}

// AttachSignature appends a signature pair and returns the re-marshaled
// frozen bytes. One signature per node body is required.
func AttachSignature(frozen []byte, publicKey string, sigs [][]byte) ([]byte, error) {
	env, err := Unmarshal(frozen)
	if err != nil {
		return nil, err
	}
	if len(sigs) != len(env.NodeAccountIDs) {
		return nil, errors.Errorf("have %d signatures for %d node bodies", len(sigs), len(env.NodeAccountIDs))
	}
	for _, pair := range env.SignaturePairs {
		if pair.PublicKey == publicKey {
			return nil, errors.Errorf("key %s already attached", publicKey)
		}
	}
	env.SignaturePairs = append(env.SignaturePairs, SignaturePair{
		PublicKey:  publicKey,
		Signatures: sigs,
	})
	return Marshal(env)
}
