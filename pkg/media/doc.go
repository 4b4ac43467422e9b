/*
Package media stores evidence images for log entries.

Images live in a single directory and are named {id}_{index}.{ext}, where id
is the log identifier and index the attachment position. The extension is
chosen from the sniffed content type.

# Atomicity

Multi-file operations never leave a half-applied state behind:

  - Delete moves every file aside before unlinking, so a failed move puts
    the originals back.
  - Rename reverses the files it already moved when a later one fails.
  - Replace stages the new set next to the old one before swapping.
  - SwapDir replaces the whole directory during a restore and keeps the old
    one until the caller commits or rolls back.

The log store relies on these guarantees to keep row changes and media
changes in step.
*/
package media
