// Package notify delivers booking events. The AMQP publisher puts events on
// a topic exchange, the relay consumes them back for delivery, and the log
// sink records them through slog.
package notify
