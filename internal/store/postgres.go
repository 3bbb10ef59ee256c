package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipredict/wager-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Lamport and token amounts are stored as NUMERIC(20,0) so the full u64
// range round-trips exactly; order queues are embedded JSONB documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// parseU reads a NUMERIC::TEXT column into uint64.
func parseU(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func (s *PostgresStore) GetPlatform(ctx context.Context) (*model.Platform, error) {
	var p model.Platform
	var creationFee, wagersCreated, volume, fees string

	err := s.pool.QueryRow(ctx,
		`SELECT authority, fee_recipient, platform_fee_bps, deployer_fee_bps,
		        wager_creation_fee::TEXT, total_wagers_created::TEXT,
		        total_volume_traded::TEXT, total_fees_collected::TEXT
		 FROM platform WHERE singleton`).
		Scan(&p.Authority, &p.FeeRecipient, &p.PlatformFeeBps, &p.DeployerFeeBps,
			&creationFee, &wagersCreated, &volume, &fees)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get platform: %w", err)
	}

	p.WagerCreationFee = parseU(creationFee)
	p.TotalWagersCreated = parseU(wagersCreated)
	p.TotalVolumeTraded = parseU(volume)
	p.TotalFeesCollected = parseU(fees)
	return &p, nil
}

func (s *PostgresStore) SavePlatform(ctx context.Context, p *model.Platform) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO platform (singleton, authority, fee_recipient, platform_fee_bps, deployer_fee_bps,
		                       wager_creation_fee, total_wagers_created, total_volume_traded, total_fees_collected)
		 VALUES (TRUE, $1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC)
		 ON CONFLICT (singleton) DO UPDATE SET
		   authority = EXCLUDED.authority,
		   fee_recipient = EXCLUDED.fee_recipient,
		   platform_fee_bps = EXCLUDED.platform_fee_bps,
		   deployer_fee_bps = EXCLUDED.deployer_fee_bps,
		   wager_creation_fee = EXCLUDED.wager_creation_fee,
		   total_wagers_created = EXCLUDED.total_wagers_created,
		   total_volume_traded = EXCLUDED.total_volume_traded,
		   total_fees_collected = EXCLUDED.total_fees_collected`,
		p.Authority, p.FeeRecipient, p.PlatformFeeBps, p.DeployerFeeBps,
		strconv.FormatUint(p.WagerCreationFee, 10),
		strconv.FormatUint(p.TotalWagersCreated, 10),
		strconv.FormatUint(p.TotalVolumeTraded, 10),
		strconv.FormatUint(p.TotalFeesCollected, 10),
	)
	return err
}

const wagerColumns = `id, creator, name, description,
	        opening_time, closing_time, resolution_time,
	        status, resolution,
	        total_yes_tokens::TEXT, total_no_tokens::TEXT,
	        total_sol_deposited::TEXT, total_sol_redeemed::TEXT,
	        total_volume_traded::TEXT, total_fees_collected::TEXT, created_at`

func scanWager(row pgx.Row) (*model.Wager, error) {
	var w model.Wager
	var id int64
	var yes, no, deposited, redeemed, volume, fees string

	err := row.Scan(&id, &w.Creator, &w.Name, &w.Description,
		&w.OpeningTime, &w.ClosingTime, &w.ResolutionTime,
		&w.Status, &w.Resolution,
		&yes, &no, &deposited, &redeemed, &volume, &fees, &w.CreatedAt)
	if err != nil {
		return nil, err
	}

	w.ID = uint64(id)
	w.TotalYesTokens = parseU(yes)
	w.TotalNoTokens = parseU(no)
	w.TotalSolDeposited = parseU(deposited)
	w.TotalSolRedeemed = parseU(redeemed)
	w.TotalVolumeTraded = parseU(volume)
	w.TotalFeesCollected = parseU(fees)
	return &w, nil
}

func (s *PostgresStore) CreateWager(ctx context.Context, w *model.Wager, b *model.OrderBook) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO wagers (id, creator, name, description,
		                     opening_time, closing_time, resolution_time,
		                     status, resolution,
		                     total_yes_tokens, total_no_tokens,
		                     total_sol_deposited, total_sol_redeemed,
		                     total_volume_traded, total_fees_collected, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
		         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16)`,
		int64(w.ID), w.Creator, w.Name, w.Description,
		w.OpeningTime, w.ClosingTime, w.ResolutionTime,
		w.Status, w.Resolution,
		strconv.FormatUint(w.TotalYesTokens, 10), strconv.FormatUint(w.TotalNoTokens, 10),
		strconv.FormatUint(w.TotalSolDeposited, 10), strconv.FormatUint(w.TotalSolRedeemed, 10),
		strconv.FormatUint(w.TotalVolumeTraded, 10), strconv.FormatUint(w.TotalFeesCollected, 10),
		w.CreatedAt,
	)
	if err != nil {
		return err
	}

	if err := saveBook(ctx, tx, b, true); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetWager(ctx context.Context, id uint64) (*model.Wager, error) {
	w, err := scanWager(s.pool.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wager %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wager %d: %w", id, err)
	}
	return w, nil
}

func (s *PostgresStore) ListWagers(ctx context.Context) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wagers []model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, *w)
	}
	return wagers, rows.Err()
}

func (s *PostgresStore) SaveWager(ctx context.Context, w *model.Wager) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE wagers
		 SET status = $2, resolution = $3,
		     total_yes_tokens = $4::NUMERIC, total_no_tokens = $5::NUMERIC,
		     total_sol_deposited = $6::NUMERIC, total_sol_redeemed = $7::NUMERIC,
		     total_volume_traded = $8::NUMERIC, total_fees_collected = $9::NUMERIC
		 WHERE id = $1`,
		int64(w.ID), w.Status, w.Resolution,
		strconv.FormatUint(w.TotalYesTokens, 10), strconv.FormatUint(w.TotalNoTokens, 10),
		strconv.FormatUint(w.TotalSolDeposited, 10), strconv.FormatUint(w.TotalSolRedeemed, 10),
		strconv.FormatUint(w.TotalVolumeTraded, 10), strconv.FormatUint(w.TotalFeesCollected, 10),
	)
	return err
}

func saveBook(ctx context.Context, tx pgx.Tx, b *model.OrderBook, insert bool) error {
	buyYes, err := json.Marshal(b.BuyYes)
	if err != nil {
		return err
	}
	sellYes, err := json.Marshal(b.SellYes)
	if err != nil {
		return err
	}
	buyNo, err := json.Marshal(b.BuyNo)
	if err != nil {
		return err
	}
	sellNo, err := json.Marshal(b.SellNo)
	if err != nil {
		return err
	}

	if insert {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_books (wager_id, next_order_id, active_orders, buy_yes, sell_yes, buy_no, sell_no)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			int64(b.WagerID), int64(b.NextOrderID), b.ActiveOrders,
			buyYes, sellYes, buyNo, sellNo)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE order_books
			 SET next_order_id = $2, active_orders = $3,
			     buy_yes = $4, sell_yes = $5, buy_no = $6, sell_no = $7
			 WHERE wager_id = $1`,
			int64(b.WagerID), int64(b.NextOrderID), b.ActiveOrders,
			buyYes, sellYes, buyNo, sellNo)
	}
	return err
}

func (s *PostgresStore) GetOrderBook(ctx context.Context, wagerID uint64) (*model.OrderBook, error) {
	var b model.OrderBook
	var id, nextID int64
	var buyYes, sellYes, buyNo, sellNo []byte

	err := s.pool.QueryRow(ctx,
		`SELECT wager_id, next_order_id, active_orders, buy_yes, sell_yes, buy_no, sell_no
		 FROM order_books WHERE wager_id = $1`, int64(wagerID)).
		Scan(&id, &nextID, &b.ActiveOrders, &buyYes, &sellYes, &buyNo, &sellNo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order book for wager %d: %w", wagerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order book %d: %w", wagerID, err)
	}

	b.WagerID = uint64(id)
	b.NextOrderID = uint64(nextID)
	for _, q := range []struct {
		data []byte
		dst  *[]model.Order
	}{
		{buyYes, &b.BuyYes}, {sellYes, &b.SellYes}, {buyNo, &b.BuyNo}, {sellNo, &b.SellNo},
	} {
		if err := json.Unmarshal(q.data, q.dst); err != nil {
			return nil, fmt.Errorf("decode order book %d: %w", wagerID, err)
		}
	}
	return &b, nil
}

func (s *PostgresStore) SaveOrderBook(ctx context.Context, b *model.OrderBook) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := saveBook(ctx, tx, b, false); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPosition(ctx context.Context, user string, wagerID uint64) (*model.UserPosition, error) {
	pos := model.UserPosition{User: user, WagerID: wagerID}
	var yesBought, yesSold, noBought, noSold, deposited, withdrawn string

	err := s.pool.QueryRow(ctx,
		`SELECT yes_bought::TEXT, yes_sold::TEXT, no_bought::TEXT, no_sold::TEXT,
		        sol_deposited::TEXT, sol_withdrawn::TEXT, winnings_claimed
		 FROM user_positions WHERE user_addr = $1 AND wager_id = $2`,
		user, int64(wagerID)).
		Scan(&yesBought, &yesSold, &noBought, &noSold, &deposited, &withdrawn, &pos.WinningsClaimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return &pos, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%d: %w", user, wagerID, err)
	}

	pos.YesBought = parseU(yesBought)
	pos.YesSold = parseU(yesSold)
	pos.NoBought = parseU(noBought)
	pos.NoSold = parseU(noSold)
	pos.SolDeposited = parseU(deposited)
	pos.SolWithdrawn = parseU(withdrawn)
	return &pos, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, pos *model.UserPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_positions (user_addr, wager_id, yes_bought, yes_sold, no_bought, no_sold,
		                             sol_deposited, sol_withdrawn, winnings_claimed)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 ON CONFLICT (user_addr, wager_id) DO UPDATE SET
		   yes_bought = EXCLUDED.yes_bought,
		   yes_sold = EXCLUDED.yes_sold,
		   no_bought = EXCLUDED.no_bought,
		   no_sold = EXCLUDED.no_sold,
		   sol_deposited = EXCLUDED.sol_deposited,
		   sol_withdrawn = EXCLUDED.sol_withdrawn,
		   winnings_claimed = EXCLUDED.winnings_claimed`,
		pos.User, int64(pos.WagerID),
		strconv.FormatUint(pos.YesBought, 10), strconv.FormatUint(pos.YesSold, 10),
		strconv.FormatUint(pos.NoBought, 10), strconv.FormatUint(pos.NoSold, 10),
		strconv.FormatUint(pos.SolDeposited, 10), strconv.FormatUint(pos.SolWithdrawn, 10),
		pos.WinningsClaimed,
	)
	return err
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, user string) ([]model.UserPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_addr, wager_id, yes_bought::TEXT, yes_sold::TEXT, no_bought::TEXT, no_sold::TEXT,
		        sol_deposited::TEXT, sol_withdrawn::TEXT, winnings_claimed
		 FROM user_positions WHERE user_addr = $1 ORDER BY wager_id`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.UserPosition
	for rows.Next() {
		var pos model.UserPosition
		var wagerID int64
		var yesBought, yesSold, noBought, noSold, deposited, withdrawn string

		if err := rows.Scan(&pos.User, &wagerID, &yesBought, &yesSold, &noBought, &noSold,
			&deposited, &withdrawn, &pos.WinningsClaimed); err != nil {
			return nil, err
		}
		pos.WagerID = uint64(wagerID)
		pos.YesBought = parseU(yesBought)
		pos.YesSold = parseU(yesSold)
		pos.NoBought = parseU(noBought)
		pos.NoSold = parseU(noSold)
		pos.SolDeposited = parseU(deposited)
		pos.SolWithdrawn = parseU(withdrawn)
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (id, wager_id, token_type, buy_order_id, sell_order_id,
		                    buyer, seller, price, quantity, value, fee, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12)`,
		f.ID, int64(f.WagerID), f.TokenType, int64(f.BuyOrderID), int64(f.SellOrderID),
		f.Buyer, f.Seller,
		strconv.FormatUint(f.Price, 10), strconv.FormatUint(f.Quantity, 10),
		strconv.FormatUint(f.Value, 10), strconv.FormatUint(f.Fee, 10),
		f.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListFillsByWager(ctx context.Context, wagerID uint64) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, wager_id, token_type, buy_order_id, sell_order_id,
		        buyer, seller, price::TEXT, quantity::TEXT, value::TEXT, fee::TEXT, timestamp
		 FROM fills WHERE wager_id = $1 ORDER BY timestamp, id`, int64(wagerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var wid, buyID, sellID int64
		var price, quantity, value, fee string

		if err := rows.Scan(&f.ID, &wid, &f.TokenType, &buyID, &sellID,
			&f.Buyer, &f.Seller, &price, &quantity, &value, &fee, &f.Timestamp); err != nil {
			return nil, err
		}
		f.WagerID = uint64(wid)
		f.BuyOrderID = uint64(buyID)
		f.SellOrderID = uint64(sellID)
		f.Price = parseU(price)
		f.Quantity = parseU(quantity)
		f.Value = parseU(value)
		f.Fee = parseU(fee)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
