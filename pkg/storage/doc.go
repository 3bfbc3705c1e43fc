/*
Package storage provides persistent storage for the orchestration journal.

It uses BoltDB as an embedded key-value store with one bucket per record
kind: runs, per-run service states, and ensured volumes. Values are JSON.
The journal is what lets a later `stackd down` find and tear down services
started by an earlier `stackd up`.
*/
package storage
