// Package identity resolves anonymous visitors into durable identities and
// keeps their sticky listen platform preference.
//
// Mutations for one anonymous id are serialized through a distlock.KeyLocker
// and every store write is conditional, so a lost update is impossible even
// when two processes share the store.
package identity
