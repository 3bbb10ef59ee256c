// Package model defines the core domain types shared across the wager engine.
// Collateral amounts are integer lamports (1 SOL = 1e9 lamports) and token
// quantities are whole outcome tokens — never float64 for money.
package model

import "time"

// WagerStatus is the lifecycle state of a wager.
type WagerStatus string

const (
	WagerCreated  WagerStatus = "created"
	WagerActive   WagerStatus = "active"
	WagerResolved WagerStatus = "resolved"
)

// Resolution is the outcome of a resolved wager.
type Resolution string

const (
	ResolutionPending Resolution = "pending"
	ResolutionYesWon  Resolution = "yes_won"
	ResolutionNoWon   Resolution = "no_won"
	ResolutionDraw    Resolution = "draw"
)

// OrderSide distinguishes buy and sell orders.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// TokenType is one of the two complementary outcome tokens.
type TokenType string

const (
	TokenYes TokenType = "yes"
	TokenNo  TokenType = "no"
)

// Opposite returns the complementary token type.
func (t TokenType) Opposite() TokenType {
	if t == TokenYes {
		return TokenNo
	}
	return TokenYes
}

// OrderStatus tracks an order through its fill lifecycle. Terminal orders
// (filled, cancelled) are removed from the book queues.
type OrderStatus string

const (
	OrderActive          OrderStatus = "active"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
)

// Platform is the singleton global account: fee configuration and
// running totals across all wagers.
type Platform struct {
	Authority          string `json:"authority" db:"authority"`
	FeeRecipient       string `json:"fee_recipient" db:"fee_recipient"`
	PlatformFeeBps     uint16 `json:"platform_fee_bps" db:"platform_fee_bps"`
	DeployerFeeBps     uint16 `json:"deployer_fee_bps" db:"deployer_fee_bps"`
	WagerCreationFee   uint64 `json:"wager_creation_fee" db:"wager_creation_fee"` // lamports
	TotalWagersCreated uint64 `json:"total_wagers_created" db:"total_wagers_created"`
	TotalVolumeTraded  uint64 `json:"total_volume_traded" db:"total_volume_traded"` // lamports
	TotalFeesCollected uint64 `json:"total_fees_collected" db:"total_fees_collected"`
}

// Wager is a binary-outcome market. Token supplies count whole outcome
// tokens; lamport totals track collateral in and out of the vault.
type Wager struct {
	ID                 uint64      `json:"id" db:"id"`
	Creator            string      `json:"creator" db:"creator"`
	Name               string      `json:"name" db:"name"`
	Description        string      `json:"description" db:"description"`
	OpeningTime        time.Time   `json:"opening_time" db:"opening_time"`
	ClosingTime        time.Time   `json:"closing_time" db:"closing_time"`
	ResolutionTime     time.Time   `json:"resolution_time" db:"resolution_time"`
	Status             WagerStatus `json:"status" db:"status"`
	Resolution         Resolution  `json:"resolution" db:"resolution"`
	TotalYesTokens     uint64      `json:"total_yes_tokens" db:"total_yes_tokens"`
	TotalNoTokens      uint64      `json:"total_no_tokens" db:"total_no_tokens"`
	TotalSolDeposited  uint64      `json:"total_sol_deposited" db:"total_sol_deposited"`
	TotalSolRedeemed   uint64      `json:"total_sol_redeemed" db:"total_sol_redeemed"`
	TotalVolumeTraded  uint64      `json:"total_volume_traded" db:"total_volume_traded"`
	TotalFeesCollected uint64      `json:"total_fees_collected" db:"total_fees_collected"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
}

// Order is a resting limit order. Buy orders escrow Price×RemainingQuantity
// lamports; sell orders escrow RemainingQuantity tokens. IDs are assigned in
// creation order per book, so ID order is time priority.
type Order struct {
	ID                uint64      `json:"id"`
	Owner             string      `json:"owner"`
	Side              OrderSide   `json:"side"`
	TokenType         TokenType   `json:"token_type"`
	Price             uint64      `json:"price"` // lamports per token
	OriginalQuantity  uint64      `json:"original_quantity"`
	RemainingQuantity uint64      `json:"remaining_quantity"`
	Status            OrderStatus `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
}

// FilledQuantity is the number of tokens already executed.
func (o *Order) FilledQuantity() uint64 {
	return o.OriginalQuantity - o.RemainingQuantity
}

// OrderBook holds the four open-order queues for one wager, embedded in the
// record itself. Buy queues are sorted best (highest) price first, sell
// queues best (lowest) price first; equal prices keep FIFO order.
type OrderBook struct {
	WagerID      uint64  `json:"wager_id" db:"wager_id"`
	NextOrderID  uint64  `json:"next_order_id" db:"next_order_id"`
	ActiveOrders int     `json:"active_orders" db:"active_orders"`
	BuyYes       []Order `json:"buy_yes" db:"buy_yes"`
	SellYes      []Order `json:"sell_yes" db:"sell_yes"`
	BuyNo        []Order `json:"buy_no" db:"buy_no"`
	SellNo       []Order `json:"sell_no" db:"sell_no"`
}

// Queue returns a pointer to the queue for the given side and token type.
func (b *OrderBook) Queue(side OrderSide, token TokenType) *[]Order {
	switch {
	case side == SideBuy && token == TokenYes:
		return &b.BuyYes
	case side == SideSell && token == TokenYes:
		return &b.SellYes
	case side == SideBuy && token == TokenNo:
		return &b.BuyNo
	default:
		return &b.SellNo
	}
}

// UserPosition is a per-(user, wager) running tally. Token balances live on
// the ledger; these counters feed the portfolio view and claim bookkeeping.
type UserPosition struct {
	User            string `json:"user" db:"user_addr"`
	WagerID         uint64 `json:"wager_id" db:"wager_id"`
	YesBought       uint64 `json:"yes_bought" db:"yes_bought"`
	YesSold         uint64 `json:"yes_sold" db:"yes_sold"`
	NoBought        uint64 `json:"no_bought" db:"no_bought"`
	NoSold          uint64 `json:"no_sold" db:"no_sold"`
	SolDeposited    uint64 `json:"sol_deposited" db:"sol_deposited"`
	SolWithdrawn    uint64 `json:"sol_withdrawn" db:"sol_withdrawn"`
	WinningsClaimed bool   `json:"winnings_claimed" db:"winnings_claimed"`
}

// Fill is an immutable record of one trade execution. Once created, fills
// are never modified or deleted.
type Fill struct {
	ID          string    `json:"id" db:"id"`
	WagerID     uint64    `json:"wager_id" db:"wager_id"`
	TokenType   TokenType `json:"token_type" db:"token_type"`
	BuyOrderID  uint64    `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID uint64    `json:"sell_order_id" db:"sell_order_id"` // 0 for quick-buy sales
	Buyer       string    `json:"buyer" db:"buyer"`
	Seller      string    `json:"seller" db:"seller"`
	Price       uint64    `json:"price" db:"price"`       // lamports per token
	Quantity    uint64    `json:"quantity" db:"quantity"` // tokens
	Value       uint64    `json:"value" db:"value"`       // price × quantity
	Fee         uint64    `json:"fee" db:"fee"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}
