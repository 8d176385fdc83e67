// Package solana is the ledger gateway: keypair custody, balance queries,
// transfer submission and signature status lookups against a Solana RPC
// endpoint.
package solana

import (
	"context"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

type TxStatus struct {
	Signature     string  `json:"signature"`
	Status        string  `json:"status"`
	Slot          uint64  `json:"slot"`
	Confirmations *uint64 `json:"confirmations,omitempty"`
	Err           *string `json:"err,omitempty"`
}

type TransferResult struct {
	Signature            string
	Status               string
	CommitmentTarget     string
	LastValidBlockHeight int64
}

type SignatureInfo struct {
	Signature string
	Status    string
	Err       *string
	Memo      *string
	BlockTime *time.Time
}

type Client struct {
	rpc      *rpc.Client
	endpoint string
	log      *zap.Logger
}

func NewClient(rpcURL string, log *zap.Logger) *Client {
	return &Client{
		rpc:      rpc.New(rpcURL),
		endpoint: rpcURL,
		log:      log,
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

// GenerateKeypair creates a fresh wallet and returns its base58 public key and
// secret key. The secret key is persisted server-side only.
func GenerateKeypair() (publicKey, secretKey string, err error) {
	wallet := solanago.NewWallet()
	return wallet.PublicKey().String(), wallet.PrivateKey.String(), nil
}

func ValidateAddress(address string) bool {
	_, err := solanago.PublicKeyFromBase58(address)
	return err == nil
}

func (c *Client) GetBalance(ctx context.Context, address string) (int64, error) {
	pub, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}
	out, err := c.rpc.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return int64(out.Value), nil
}

// SubmitTransfer signs and submits a system transfer of lamports from the
// escrow wallet to the destination address. It does not wait for confirmation;
// callers track the returned signature via GetTransactionStatus.
func (c *Client) SubmitTransfer(ctx context.Context, secretKey, toAddress string, lamports int64) (*TransferResult, error) {
	priv, err := solanago.PrivateKeyFromBase58(secretKey)
	if err != nil {
		return nil, fmt.Errorf("restore keypair: %w", err)
	}
	to, err := solanago.PublicKeyFromBase58(toAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", toAddress, err)
	}
	from := priv.PublicKey()

	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{
			system.NewTransferInstruction(uint64(lamports), from, to).Build(),
		},
		recent.Value.Blockhash,
		solanago.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(from) {
			return &priv
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("send transfer: %w", err)
	}

	c.log.Info("transfer submitted",
		zap.String("signature", sig.String()),
		zap.String("to", toAddress),
		zap.Int64("lamports", lamports),
	)

	return &TransferResult{
		Signature:            sig.String(),
		Status:               TxStatusPendingValue,
		CommitmentTarget:     CommitmentConfirmed,
		LastValidBlockHeight: int64(recent.Value.LastValidBlockHeight),
	}, nil
}

// TxStatusPendingValue is the normalized status for a freshly submitted,
// not-yet-observed transfer.
const TxStatusPendingValue = "pending"

func (c *Client) GetTransactionStatus(ctx context.Context, signature string) (*TxStatus, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}

	result := &TxStatus{Signature: signature, Status: StatusNotFound}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return result, nil
	}

	info := out.Value[0]
	result.Status = NormalizeCommitment(string(info.ConfirmationStatus))
	result.Slot = uint64(info.Slot)
	result.Confirmations = info.Confirmations
	if info.Err != nil {
		msg := fmt.Sprintf("%v", info.Err)
		result.Err = &msg
	}
	return result, nil
}

// ListRecentSignatures returns the most recent transaction signatures touching
// an address, newest first. Used by funding reconciliation to discover
// deposits.
func (c *Client) ListRecentSignatures(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	pub, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if limit <= 0 {
		limit = 10
	}

	out, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, pub, &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get signatures for address: %w", err)
	}

	infos := make([]SignatureInfo, 0, len(out))
	for _, item := range out {
		info := SignatureInfo{
			Signature: item.Signature.String(),
			Status:    NormalizeCommitment(string(item.ConfirmationStatus)),
			Memo:      item.Memo,
		}
		if item.Err != nil {
			msg := fmt.Sprintf("%v", item.Err)
			info.Err = &msg
		}
		if item.BlockTime != nil {
			t := item.BlockTime.Time()
			info.BlockTime = &t
		}
		infos = append(infos, info)
	}
	return infos, nil
}
