// Package contentgen implements the content collaborators of the sequencer:
// a Generator that writes subjects and bodies for schedule entries, and a
// Classifier that maps a prospect's reply to the thread's next status.
//
// Template instructions are Liquid templates rendered against the
// prospect, the thread and the step. The rendered instructions go to
// OpenAI; Bedrock is used as a fallback generator when configured.
package contentgen
