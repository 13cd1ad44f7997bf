// Package mysql persists the report history. A JSON-lines file backs local
// development; the MySQL repository applies the embedded schema migrations from
// deploy/migrations on start-up.
package mysql
