// Package validate provides branded wrapper types for values that have
// passed safety validation: git references and repository-relative paths.
//
// Each wrapper can only be constructed through its Parse function, so any
// code accepting one is guaranteed by construction never to see
// unsanitized input. The Is* guards are defined as "Parse succeeds" and
// share no separate validation logic.
package validate
