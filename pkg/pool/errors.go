package pool

import "github.com/pkg/errors"

// Sentinels produced by the orchestrator itself. Rejections arising in
// the layers below keep their own sentinels (ledger.ErrCommitmentExists,
// zkp.ErrMalformedPublicInputs, zkp.ErrProofVerificationFailed,
// assets.ErrUnknownAsset, store.ErrVerifyingKeyExists) and pass through
// unchanged, so errors.Is works against the full taxonomy.
var (
	// ErrPoolFull rejects a deposit once the tree holds 2^depth leaves.
	ErrPoolFull = errors.New("pool is at capacity")

	// ErrInvalidRoot rejects a withdrawal whose claimed root is not in
	// the retained history.
	ErrInvalidRoot = errors.New("unknown or expired merkle root")

	// ErrNullifierSpent rejects a withdrawal whose nullifier hash is
	// already in the spent set.
	ErrNullifierSpent = errors.New("nullifier already spent")

	// ErrAssetInactive rejects operations on a deactivated asset.
	ErrAssetInactive = errors.New("asset is not active")

	// ErrVerifyingKeyMissing rejects withdrawals before a verifying key
	// has been installed.
	ErrVerifyingKeyMissing = errors.New("no verifying key installed")

	// ErrHalted is returned by every mutating operation after the pool
	// detected an internal invariant violation. The wrapped cause names
	// the violation; recovery requires a restart and replay.
	ErrHalted = errors.New("pool halted")
)
