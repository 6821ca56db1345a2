// Package gateway реализует WebSocket-клиент Discord Gateway v10 (JSON).
// Клиент подключается к адресу из GET /gateway/bot, проходит рукопожатие
// HELLO → IDENTIFY (или RESUME), держит heartbeat и доставляет события
// INTERACTION_CREATE через колбэк, каждое в своей горутине.
//
// События (колбэки поля структуры):
//   - OnConnected, OnReady, OnInteraction, OnDisconnected, OnError.
//
// Безопасность и устойчивость:
//   - Запись в сокет сериализована (мьютекс + write-deadline).
//   - Heartbeat с интервалом из HELLO; если ACK на прошлый удар не пришёл,
//     соединение считается «зомби» и закрывается, readLoop реконнектится.
//   - Реконнект с экспоненциальным backoff (1s → 30s). Если есть session_id,
//     отправляется RESUME на resume_gateway_url, иначе новый IDENTIFY.
//   - Коды закрытия 4004 и 4010–4014 фатальны: клиент останавливается,
//     Err() возвращает ErrFatalClose.
//
// Пример:
//
//	gw := gateway.New(url, token, log)
//	gw.OnInteraction = func(in *discord.Interaction) { ... }
//	if err := gw.Connect(ctx); err != nil { log.Fatal(err) }
//	defer gw.Disconnect()
//	<-gw.Done()
package gateway
