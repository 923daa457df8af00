package engine

import (
	"context"
	"database/sql"
	"fmt"
)

// ForeignKey is a column reference between two sample tables.
type ForeignKey struct {
	Table        string
	Column       string
	TargetTable  string
	TargetColumn string
}

// SampleForeignKeys are recorded in the metadata registry after the sample
// tables are registered, enabling implicit joins.
var SampleForeignKeys = []ForeignKey{
	{Table: "ORDERS", Column: "PRODUCT_ID", TargetTable: "PRODUCTS", TargetColumn: "ID"},
	{Table: "ORDERS", Column: "USER_ID", TargetTable: "PEOPLE", TargetColumn: "ID"},
}

// SampleCategories are the product categories of the sample warehouse.
var SampleCategories = []string{"Doohickey", "Gadget", "Gizmo", "Widget"}

// Product IDs run 1..200; orders reference IDs up to 210 so some have no
// matching product.
var sampleTables = []struct {
	name string
	ddl  string
}{
	{"PRODUCTS", `CREATE TABLE IF NOT EXISTS main."PRODUCTS" AS
SELECT
	i::INTEGER AS "ID",
	'Product ' || i::VARCHAR AS "TITLE",
	['Doohickey', 'Gadget', 'Gizmo', 'Widget'][(i % 4) + 1] AS "CATEGORY",
	['Acme', 'Globex', 'Initech'][(i % 3) + 1] AS "VENDOR",
	round(10 + (i * 37 % 900) / 10.0, 2)::DOUBLE AS "PRICE",
	round(1 + (i * 13 % 40) / 10.0, 1)::DOUBLE AS "RATING",
	TIMESTAMP '2023-01-01 00:00:00' + to_days(i::INTEGER) AS "CREATED_AT"
FROM range(1, 201) AS t(i)`},
	{"PEOPLE", `CREATE TABLE IF NOT EXISTS main."PEOPLE" AS
SELECT
	i::INTEGER AS "ID",
	'Person ' || i::VARCHAR AS "NAME",
	'person' || i::VARCHAR || '@example.com' AS "EMAIL",
	['CA', 'NY', 'TX', 'WA'][(i % 4) + 1] AS "STATE",
	['Affiliate', 'Facebook', 'Google', 'Organic'][(i * 7 % 4) + 1] AS "SOURCE",
	TIMESTAMP '2022-06-01 00:00:00' + to_days(i::INTEGER) AS "CREATED_AT"
FROM range(1, 101) AS t(i)`},
	{"ORDERS", `CREATE TABLE IF NOT EXISTS main."ORDERS" AS
SELECT
	i::INTEGER AS "ID",
	((i * 7) % 100 + 1)::INTEGER AS "USER_ID",
	((i * 11) % 210 + 1)::INTEGER AS "PRODUCT_ID",
	round(5 + (i * 53 % 1500) / 10.0, 2)::DOUBLE AS "SUBTOTAL",
	((i % 5) + 1)::INTEGER AS "QUANTITY",
	TIMESTAMP '2024-01-01 00:00:00' + to_hours(i) AS "CREATED_AT"
FROM range(1, 1001) AS t(i)`},
}

// LoadSampleData creates the PRODUCTS, PEOPLE and ORDERS tables in the main
// schema unless they already exist.
func LoadSampleData(ctx context.Context, db *sql.DB) error {
	for _, t := range sampleTables {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create sample table %s: %w", t.name, err)
		}
	}
	return nil
}
