package mcpserver

// CommitContract describes the canonical commit payload that LLM consumers
// should follow when committing changes to documents.
const CommitContract = `# Commit Contract

Every change committed through the commit_change tool MUST follow this
structure.

## Shape

- ` + "`" + `id` + "`" + `: REQUIRED. The document the change applies to. The id must
  resolve to a stored document; documents created locally but never delivered
  become real when their first committed change is delivered. An unknown id
  fails the commit.
- ` + "`" + `actionId` + "`" + `: REQUIRED. The editing action the change belongs to. Changes
  from different actions are independent records; commits from the same
  action reuse one draft context and one track id until committed.
- ` + "`" + `fields` + "`" + `: REQUIRED. A JSON object of field values. This is an absolute
  snapshot, not a diff: every field named here fully overwrites the stored
  value on replay. Omit fields you do not want to touch.
- ` + "`" + `toState` + "`" + `: OPTIONAL. A behaviour state to transition the document to.
  Must be reachable from the current state in the document's declared state
  graph; an empty value keeps the current state.

## Rules

1. **Field names are plain keys.** Do not use ` + "`" + `$` + "`" + `- or ` + "`" + `_` + "`" + `-prefixed names;
   those are bookkeeping fields owned by the sync layer.
2. **Commits are durable.** A committed change survives restarts and is
   delivered at least once when the endpoint is reachable. Do not re-commit
   the same change after an offline period.
3. **Track ids correlate.** The tool returns the change's track id; use it
   with the pending_changes tool to observe delivery.
4. **One commit per user intent.** Batch related field values into a single
   commit rather than committing field by field.

## Example

` + "```" + `json
{
  "id": "inspection-2024-117",
  "actionId": "siteReview",
  "fields": {"inspector": "Alice", "score": 87},
  "toState": "submitted"
}
` + "```" + `
`
