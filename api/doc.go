/*
Package api defines the wire types shared by the forge HTTP server and its
clients.

Mutating routes require a signed request (see cryptoutils); the recovered
signer is the caller principal. Domain errors are returned as

	{"code": 1000, "error": "not authorized: ..."}

with the stable wire codes 1000 (NotAuthorized), 1001 (TemplateNotFound),
1002 (TemplateAlreadyExists), 1003 (InvalidTemplate) and 1004
(ContractGenerationFailed).

The server lives in httpserver; a Go client is in api/clients.
*/
package api
