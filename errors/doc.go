// Package errors provides standardized error handling for specgate.
//
// # Overview
//
// Two families of errors live here.
//
// Classified errors describe infrastructure failures (NATS connections,
// configuration, TLS material). They follow a three-class system: Transient
// (temporary, retryable), Invalid (bad input, non-retryable) and Fatal
// (unrecoverable). Wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and is produced by Wrap, WrapTransient, WrapInvalid and WrapFatal:
//
//	if err := client.Connect(ctx); err != nil {
//	    return errors.WrapTransient(err, "Client", "Connect", "establish connection")
//	}
//
// HTTP errors describe failures surfaced to API clients. Each carries a code
// and a status:
//
//	BAD_REQUEST          400  malformed or missing input
//	UNAUTHORIZED         401  missing token where security is required
//	NOT_FOUND            404  no matching operation
//	INVALID_CONTENT_TYPE 406  request media type not consumed
//	VALIDATION_FAILED    400  validator rejection, per-field details
//	PROCESS_ERROR        500  malformed or absent backend response
//	UNEXPECTED_ERROR     500  anything uncoded
//
// Normalize turns any error into the status and detail list written in the
// envelope {"errors":[{"code":...,"message":...}]}.
//
// The package shadows the standard library errors package name; import it
// under an alias where errors.Is and errors.As are also needed.
package errors
