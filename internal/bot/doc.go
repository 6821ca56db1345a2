// Package bot: диспетчер slash-команд Zwift-бота поверх REST API Discord.
// Бот:
//   - регистрирует команды (/route, /sprint, /kom, /random, /findroute,
//     /routestats, /worldroutes и админские /cacheinfo, /refreshcache);
//   - принимает interaction'ы из gateway или HTTP-эндпоинта и отвечает
//     отложенным ответом, который потом редактируется;
//   - ищет маршрут в каталоге (нечёткий поиск), подтягивает данные со
//     страницы маршрута и локальные картинки;
//   - показывает анимацию загрузки и кнопку «Share to Channel»;
//   - ограничивает частоту команд (на пользователя и глобально).
//
// Жизненный цикл:
//   - Создать бота через New(catalog, api, log).
//   - Передать зависимости: SetDetails(...), SetScraper(...), SetImages(...),
//     SetLimiter(...), SetAdmins(...), всё необязательно.
//   - SetGateway(gw) подключит обработчик interaction'ов к gateway.
//   - Start(ctx) подключает gateway и запускает очистку кнопок, Stop() всё
//     останавливает.
//
// Пример:
//
//	b := bot.New(cat, rest, log)
//	b.SetDetails(store, cacheDir)
//	b.SetScraper(zi)
//	b.SetGateway(gw)
//
//	if err := b.Start(ctx); err != nil { log.Fatal(err) }
//	defer b.Stop()
//
// Ошибки обработчиков не роняют бота: *UserError превращается в понятный
// ответ, остальное логируется и пользователь видит общее сообщение об ошибке.
// Паника в обработчике тоже перехватывается.
package bot
