// Package web3 houses blockchain connectivity used by the swap flow: chain
// definitions loaded from YAML, an EVM client that reads transaction receipts
// for settlement tracking and deposit verification, and a registry keyed by
// chain name.
package web3
