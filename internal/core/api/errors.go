package api

/*
 * Error mapping at the transport boundary.
 *
 * Validation outcomes are never errors: the handler encodes them with
 * protocol.EnvelopeFor / protocol.StatusError.
 *
 * Everything else is an error:
 *   - HTTP: echo.HTTPError and panics (Recover middleware) reach
 *     httpErrorHandler, which answers with a generic envelope. Status >= 500
 *     always carries protocol.MsgServerFault; the underlying error is logged.
 *   - gRPC: panics are recovered by UnaryInterceptor and answered with an
 *     Internal status carrying the fault envelope.
 */
