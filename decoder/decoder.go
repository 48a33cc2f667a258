// Package decoder translates opaque frozen transaction bytes into the
// structured view participants review before signing. Decoding is pure: the
// same bytes always produce the same view and the same checksum.
package decoder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
	"github.com/lazysuperheroes/hedera-multisig-sub001/txcodec"
)

// Error is a classified decode failure.
type Error struct {
	Code    protocol.ReasonCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransferView is one decoded transfer leg.
type TransferView struct {
	AccountID  string  `json:"account_id"`
	Amount     int64   `json:"amount"`
	TokenID    string  `json:"token_id,omitempty"`
	NFTSerials []int64 `json:"nft_serials,omitempty"`
}

// ContractCallView is the decoded view of a contract execution.
type ContractCallView struct {
	ContractID       string   `json:"contract_id"`
	Gas              uint64   `json:"gas"`
	PayableAmount    uint64   `json:"payable_amount"`
	Selector         string   `json:"selector"`
	FunctionName     string   `json:"function_name,omitempty"`
	FunctionParams   []string `json:"function_params,omitempty"`
	SelectorVerified bool     `json:"selector_verified"`
}

// DecodedTransaction is the tagged structured view of a frozen transaction.
// Type selects which of the kind-specific views is populated.
type DecodedTransaction struct {
	Type     string `json:"type"`
	Checksum string `json:"checksum"`

	TransactionID        string   `json:"transaction_id"`
	NodeAccountIDs       []string `json:"node_account_ids"`
	MaxFeeTinybar        uint64   `json:"max_fee"`
	Memo                 string   `json:"memo,omitempty"`
	ValidStartUnix       int64    `json:"valid_start_unix"`
	ValidDurationSeconds int64    `json:"valid_duration_seconds"`
	ExpiresAtUnix        int64    `json:"expires_at_unix"`

	Transfers      []TransferView              `json:"transfers,omitempty"`
	ContractCall   *ContractCallView           `json:"contract_call,omitempty"`
	ContractCreate *txcodec.ContractCreateBody `json:"contract_create,omitempty"`
	AccountCreate  *txcodec.AccountCreateBody  `json:"account_create,omitempty"`
	AccountUpdate  *txcodec.AccountUpdateBody  `json:"account_update,omitempty"`
	AccountDelete  *txcodec.AccountDeleteBody  `json:"account_delete,omitempty"`
	TokenAssociate *txcodec.TokenAssociateBody `json:"token_associate,omitempty"`
	TokenMint      *txcodec.TokenMintBody      `json:"token_mint,omitempty"`
	TopicCreate    *txcodec.TopicCreateBody    `json:"topic_create,omitempty"`
	TopicSubmit    *txcodec.TopicSubmitBody    `json:"topic_submit,omitempty"`
	FileCreate     *txcodec.FileCreateBody     `json:"file_create,omitempty"`
	FileAppend     *txcodec.FileAppendBody     `json:"file_append,omitempty"`
	ScheduleCreate *txcodec.ScheduleCreateBody `json:"schedule_create,omitempty"`
	ScheduleSign   *txcodec.ScheduleSignBody   `json:"schedule_sign,omitempty"`
}

// Checksum returns the hex SHA-256 of a frozen transaction blob.
func Checksum(frozen []byte) string {
	sum := sha256.Sum256(frozen)
	return hex.EncodeToString(sum[:])
}

// Decode parses frozen bytes into a DecodedTransaction. contractInterface
// optionally lists human-readable function signatures used to decode contract
// call parameters; a selector mismatch between the interface and the call
// data is a hard failure.
func Decode(frozen []byte, contractInterface []string) (*DecodedTransaction, error) {
	env, err := txcodec.Unmarshal(frozen)
	if err != nil {
		return nil, &Error{Code: protocol.ReasonDecodeError, Message: err.Error()}
	}

	body := env.Body
	dt := &DecodedTransaction{
		Checksum:             Checksum(frozen),
		TransactionID:        body.TransactionID.String(),
		NodeAccountIDs:       env.NodeAccountIDs,
		MaxFeeTinybar:        body.MaxFeeTinybar,
		Memo:                 body.Memo,
		ValidStartUnix:       body.TransactionID.ValidStartUnix,
		ValidDurationSeconds: body.ValidDurationSeconds,
		ExpiresAtUnix:        body.TransactionID.ValidStartUnix + body.ValidDurationSeconds,
	}

	switch body.Kind {
	case txcodec.KindTransfer:
		if body.Transfer == nil {
			return nil, &Error{Code: protocol.ReasonDecodeError, Message: "transfer body is missing"}
		}
		dt.Type = string(txcodec.KindTransfer)
		for _, entry := range body.Transfer.Transfers {
			dt.Transfers = append(dt.Transfers, TransferView{
				AccountID:  entry.AccountID,
				Amount:     entry.Amount,
				TokenID:    entry.TokenID,
				NFTSerials: entry.NFTSerials,
			})
		}

	case txcodec.KindContractCall:
		if body.ContractCall == nil {
			return nil, &Error{Code: protocol.ReasonDecodeError, Message: "contract call body is missing"}
		}
		dt.Type = string(txcodec.KindContractCall)
		view, err := decodeContractCall(body.ContractCall, contractInterface)
		if err != nil {
			return nil, err
		}
		dt.ContractCall = view

	case txcodec.KindContractCreate:
		dt.Type = string(body.Kind)
		dt.ContractCreate = body.ContractCreate
	case txcodec.KindAccountCreate:
		dt.Type = string(body.Kind)
		dt.AccountCreate = body.AccountCreate
	case txcodec.KindAccountUpdate:
		dt.Type = string(body.Kind)
		dt.AccountUpdate = body.AccountUpdate
	case txcodec.KindAccountDelete:
		dt.Type = string(body.Kind)
		dt.AccountDelete = body.AccountDelete
	case txcodec.KindTokenAssociate:
		dt.Type = string(body.Kind)
		dt.TokenAssociate = body.TokenAssociate
	case txcodec.KindTokenMint:
		dt.Type = string(body.Kind)
		dt.TokenMint = body.TokenMint
	case txcodec.KindTopicCreate:
		dt.Type = string(body.Kind)
		dt.TopicCreate = body.TopicCreate
	case txcodec.KindTopicSubmit:
		dt.Type = string(body.Kind)
		dt.TopicSubmit = body.TopicSubmit
	case txcodec.KindFileCreate:
		dt.Type = string(body.Kind)
		dt.FileCreate = body.FileCreate
	case txcodec.KindFileAppend:
		dt.Type = string(body.Kind)
		dt.FileAppend = body.FileAppend
	case txcodec.KindScheduleCreate:
		dt.Type = string(body.Kind)
		dt.ScheduleCreate = body.ScheduleCreate
	case txcodec.KindScheduleSign:
		dt.Type = string(body.Kind)
		dt.ScheduleSign = body.ScheduleSign

	default:
		// Unrecognized kinds decode to the unknown sink rather than
		// failing, so reviewers still see the common fields.
		dt.Type = "unknown"
	}

	return dt, nil
}

func decodeContractCall(call *txcodec.ContractCallBody, contractInterface []string) (*ContractCallView, error) {
	view := &ContractCallView{
		ContractID:    call.ContractID,
		Gas:           call.Gas,
		PayableAmount: call.PayableAmountTinybar,
	}

	if len(call.Parameters) < 4 {
		return nil, &Error{Code: protocol.ReasonDecodeError, Message: "contract call parameters are shorter than a selector"}
	}
	actual := call.Parameters[:4]
	view.Selector = hex.EncodeToString(actual)

	if len(contractInterface) == 0 {
		// No interface supplied: the call stays opaque but reviewable.
		return view, nil
	}

	fns, err := parseInterface(contractInterface)
	if err != nil {
		return nil, &Error{Code: protocol.ReasonDecodeError, Message: err.Error()}
	}

	fn := matchSelector(fns, actual)
	if fn == nil {
		return nil, &Error{
			Code: protocol.ReasonSelectorMismatch,
			Message: fmt.Sprintf("call data selector %s does not match any supplied function signature",
				view.Selector),
		}
	}

	params, err := fn.decodeParams(call.Parameters[4:])
	if err != nil {
		return nil, &Error{
			Code:    protocol.ReasonDecodeError,
			Message: errors.Wrapf(err, "failed to decode parameters for %s", fn.signature).Error(),
		}
	}

	view.FunctionName = fn.name
	view.FunctionParams = params
	view.SelectorVerified = true
	return view, nil
}
