package repository

import (
	"context"
	"fmt"

	"hubindexer/internal/models"
)

// Each Upsert* method batches one table write via UNNEST-over-arrays inside
// a single statement, conflict-do-nothing on the unique key, matching the
// teacher's bulk-upsert shape for the message tables. Batch size is the
// caller's responsibility (backfill uses 500, the event processor 100);
// these methods just run whatever slice they're given in one statement.

func (r *Repository) UpsertCasts(ctx context.Context, casts []models.Cast) error {
	if len(casts) == 0 {
		return nil
	}
	hashes := make([]string, len(casts))
	fids := make([]int64, len(casts))
	texts := make([]string, len(casts))
	parentHashes := make([]*string, len(casts))
	parentFIDs := make([]*int64, len(casts))
	parentURLs := make([]*string, len(casts))
	timestamps := make([]any, len(casts))
	embeds := make([]*string, len(casts))

	for i, c := range casts {
		hashes[i] = c.Hash
		fids[i] = int64(c.FID)
		texts[i] = c.Text
		parentHashes[i] = c.ParentHash
		if c.ParentFID != nil {
			v := int64(*c.ParentFID)
			parentFIDs[i] = &v
		}
		parentURLs[i] = c.ParentURL
		timestamps[i] = c.Timestamp
		embeds[i] = c.Embeds
	}

	const stmt = `
		INSERT INTO casts (hash, fid, text, parent_hash, parent_fid, parent_url, timestamp, embeds)
		SELECT * FROM unnest($1::text[], $2::bigint[], $3::text[], $4::text[], $5::bigint[], $6::text[], $7::timestamptz[], $8::jsonb[])
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := r.db.Exec(ctx, stmt, hashes, fids, texts, parentHashes, parentFIDs, parentURLs, timestamps, embeds)
	if err != nil {
		return fmt.Errorf("repository: upsert casts: %w", err)
	}
	return nil
}

func (r *Repository) DeleteCast(ctx context.Context, hash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM casts WHERE hash = $1`, hash)
	return err
}

func (r *Repository) UpsertReactions(ctx context.Context, reactions []models.Reaction) error {
	if len(reactions) == 0 {
		return nil
	}
	hashes := make([]string, len(reactions))
	fids := make([]int64, len(reactions))
	types := make([]string, len(reactions))
	targets := make([]string, len(reactions))
	timestamps := make([]any, len(reactions))

	for i, rxn := range reactions {
		hashes[i] = rxn.Hash
		fids[i] = int64(rxn.FID)
		types[i] = string(rxn.Type)
		targets[i] = rxn.TargetHash
		timestamps[i] = rxn.Timestamp
	}

	const stmt = `
		INSERT INTO reactions (hash, fid, type, target_hash, timestamp)
		SELECT * FROM unnest($1::text[], $2::bigint[], $3::text[], $4::text[], $5::timestamptz[])
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := r.db.Exec(ctx, stmt, hashes, fids, types, targets, timestamps)
	if err != nil {
		return fmt.Errorf("repository: upsert reactions: %w", err)
	}
	return nil
}

func (r *Repository) DeleteReaction(ctx context.Context, hash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM reactions WHERE hash = $1`, hash)
	return err
}

func (r *Repository) UpsertLinks(ctx context.Context, links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	hashes := make([]string, len(links))
	fids := make([]int64, len(links))
	targetFIDs := make([]int64, len(links))
	types := make([]string, len(links))
	timestamps := make([]any, len(links))

	for i, l := range links {
		hashes[i] = l.Hash
		fids[i] = int64(l.FID)
		targetFIDs[i] = int64(l.TargetFID)
		types[i] = l.Type
		timestamps[i] = l.Timestamp
	}

	const stmt = `
		INSERT INTO links (hash, fid, target_fid, type, timestamp)
		SELECT * FROM unnest($1::text[], $2::bigint[], $3::bigint[], $4::text[], $5::timestamptz[])
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := r.db.Exec(ctx, stmt, hashes, fids, targetFIDs, types, timestamps)
	if err != nil {
		return fmt.Errorf("repository: upsert links: %w", err)
	}
	return nil
}

func (r *Repository) DeleteLink(ctx context.Context, hash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM links WHERE hash = $1`, hash)
	return err
}

// RemainingRootFollower reports whether any root Target other than
// excludeFID still follows targetFID — the join the unfollow-pruning
// decision in realtime depends on (see DESIGN.md's Open Question record).
func (r *Repository) RemainingRootFollower(ctx context.Context, targetFID, excludeFID uint64) (bool, error) {
	const stmt = `
		SELECT EXISTS (
			SELECT 1 FROM links l
			JOIN targets t ON t.fid = l.fid AND t.is_root
			WHERE l.target_fid = $1 AND l.type = 'follow' AND l.fid != $2
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, stmt, targetFID, excludeFID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: remaining root follower: %w", err)
	}
	return exists, nil
}

func (r *Repository) UpsertVerifications(ctx context.Context, verifications []models.Verification) error {
	if len(verifications) == 0 {
		return nil
	}
	hashes := make([]string, len(verifications))
	fids := make([]int64, len(verifications))
	addresses := make([]string, len(verifications))
	protocols := make([]string, len(verifications))
	timestamps := make([]any, len(verifications))

	for i, v := range verifications {
		hashes[i] = v.Hash
		fids[i] = int64(v.FID)
		addresses[i] = v.Address
		protocols[i] = v.Protocol
		timestamps[i] = v.Timestamp
	}

	const stmt = `
		INSERT INTO verifications (hash, fid, address, protocol, timestamp)
		SELECT * FROM unnest($1::text[], $2::bigint[], $3::text[], $4::text[], $5::timestamptz[])
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := r.db.Exec(ctx, stmt, hashes, fids, addresses, protocols, timestamps)
	if err != nil {
		return fmt.Errorf("repository: upsert verifications: %w", err)
	}
	return nil
}

func (r *Repository) DeleteVerification(ctx context.Context, hash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM verifications WHERE hash = $1`, hash)
	return err
}

func (r *Repository) UpsertUserDataEntries(ctx context.Context, entries []models.UserDataEntry) error {
	if len(entries) == 0 {
		return nil
	}
	hashes := make([]string, len(entries))
	fids := make([]int64, len(entries))
	types := make([]string, len(entries))
	values := make([]string, len(entries))
	timestamps := make([]any, len(entries))

	for i, e := range entries {
		hashes[i] = e.Hash
		fids[i] = int64(e.FID)
		types[i] = string(e.Type)
		values[i] = e.Value
		timestamps[i] = e.Timestamp
	}

	const stmt = `
		INSERT INTO user_data_entries (hash, fid, type, value, timestamp)
		SELECT * FROM unnest($1::text[], $2::bigint[], $3::text[], $4::text[], $5::timestamptz[])
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := r.db.Exec(ctx, stmt, hashes, fids, types, values, timestamps)
	if err != nil {
		return fmt.Errorf("repository: upsert user data entries: %w", err)
	}
	return nil
}

// RefreshUserView recomputes the user_views row for fid from the
// latest-timestamp UserDataEntry of each type. This build maintains
// UserView as a plain table updated per-write rather than a materialized
// view: a single UPSERT keeps the invariant without a refresh scheduler.
func (r *Repository) RefreshUserView(ctx context.Context, fid uint64) error {
	const stmt = `
		INSERT INTO user_views (fid, pfp, display, bio, username, url, location, twitter, github, banner, ethereum_address, solana_address)
		SELECT
			$1,
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'pfp' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'display' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'bio' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'username' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'url' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'location' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'twitter' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'github' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'banner' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'ethereum_address' ORDER BY timestamp DESC LIMIT 1),
			(SELECT value FROM user_data_entries WHERE fid = $1 AND type = 'solana_address' ORDER BY timestamp DESC LIMIT 1)
		ON CONFLICT (fid) DO UPDATE SET
			pfp = EXCLUDED.pfp, display = EXCLUDED.display, bio = EXCLUDED.bio, username = EXCLUDED.username,
			url = EXCLUDED.url, location = EXCLUDED.location, twitter = EXCLUDED.twitter, github = EXCLUDED.github,
			banner = EXCLUDED.banner, ethereum_address = EXCLUDED.ethereum_address, solana_address = EXCLUDED.solana_address
	`
	_, err := r.db.Exec(ctx, stmt, fid)
	if err != nil {
		return fmt.Errorf("repository: refresh user view for fid %d: %w", fid, err)
	}
	return nil
}

func (r *Repository) UpsertOnChainEvents(ctx context.Context, events []models.OnChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	types := make([]string, len(events))
	chainIDs := make([]int64, len(events))
	blockNumbers := make([]int64, len(events))
	blockHashes := make([]string, len(events))
	blockTimestamps := make([]any, len(events))
	txHashes := make([]string, len(events))
	logIndexes := make([]int32, len(events))
	fids := make([]int64, len(events))
	signerBodies := make([][]byte, len(events))
	idRegisterBodies := make([][]byte, len(events))

	for i, e := range events {
		types[i] = string(e.Type)
		chainIDs[i] = int64(e.ChainID)
		blockNumbers[i] = int64(e.BlockNumber)
		blockHashes[i] = e.BlockHash
		blockTimestamps[i] = e.BlockTimestamp
		txHashes[i] = e.TransactionHash
		logIndexes[i] = int32(e.LogIndex)
		fids[i] = int64(e.FID)
		signerBodies[i] = e.SignerEventBody
		idRegisterBodies[i] = e.IDRegisterEventBody
	}

	const stmt = `
		INSERT INTO on_chain_events (type, chain_id, block_number, block_hash, block_timestamp, transaction_hash, log_index, fid, signer_event_body, id_register_event_body)
		SELECT * FROM unnest(
			$1::text[], $2::bigint[], $3::bigint[], $4::text[], $5::timestamptz[],
			$6::text[], $7::int[], $8::bigint[], $9::jsonb[], $10::jsonb[]
		)
		ON CONFLICT (transaction_hash, log_index) DO NOTHING
	`
	_, err := r.db.Exec(ctx, stmt, types, chainIDs, blockNumbers, blockHashes, blockTimestamps,
		txHashes, logIndexes, fids, signerBodies, idRegisterBodies)
	if err != nil {
		return fmt.Errorf("repository: upsert on-chain events: %w", err)
	}
	return nil
}
