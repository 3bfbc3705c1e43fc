/*
Package env implements the configuration injector.

Each service's final environment is the merge of (a) the static key/value
pairs declared on it and (b) computed values substituted wherever an
address reference appears:

	DB_HOST: ${database.host}
	DB_PORT: ${database.port}
	DB_ADDR: ${database.addr}

References may only name declared dependencies of the service; Validate
rejects anything else with a ConfigError before execution begins. At
injection time, Render awaits the referenced dependency's runtime address
on its signal cell, so a service whose dependency has not yet been assigned
an address suspends rather than receiving a default.
*/
package env
