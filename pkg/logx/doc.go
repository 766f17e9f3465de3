// Package logx is a thin structured-logging facade over zerolog.
//
// Components receive a Logger value and never touch zerolog directly.
// A Logger created from a Service stays "live": Service.Apply can change
// level and sinks at runtime and every derived Logger picks the change up.
package logx
