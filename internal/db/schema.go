package db

// The history table is keyed by order id so re-delivery of the same order
// from the market replaces the row instead of duplicating it. The purchased
// table is a derived projection and is always recomputed from history.
const schema = `
CREATE TABLE IF NOT EXISTS history (
    _id TEXT PRIMARY KEY,
    state INTEGER,
    productId TEXT,
    developerPayload TEXT,
    purchaseTime INTEGER
);

CREATE TABLE IF NOT EXISTS purchased (
    _id TEXT PRIMARY KEY,
    quantity INTEGER
);

CREATE INDEX IF NOT EXISTS idx_history_product ON history(productId);
`
