// Package tgui contains small Telegram UI helpers: HTML-safe text building,
// inline keyboard construction and callback_data encoding.
package tgui
