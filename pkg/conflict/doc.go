// Package conflict implements the short-window optimistic conflict check
// applied by the mutation worker before every edit and delete.
package conflict
