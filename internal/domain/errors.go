package domain

import "errors"

// ErrNotFound запись отсутствует в хранилище.
var ErrNotFound = errors.New("запись не найдена")

// ErrRateLimited превышен лимит обращений к провайдеру, операция пропускается.
var ErrRateLimited = errors.New("превышен лимит запросов")

// ErrAlreadyDone операция под once-ключом уже выполнялась в этом окне.
var ErrAlreadyDone = errors.New("операция уже выполнена")

// ErrInvalidPhone номер телефона не удалось привести к международному формату.
var ErrInvalidPhone = errors.New("некорректный номер телефона")
